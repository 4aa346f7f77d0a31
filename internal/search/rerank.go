package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// Blend weights: fusion-dominant, cross-encoder as tiebreaker so noisy
// passages cannot override good retrieval.
const (
	rerankWeight = 0.15
	fusionWeight = 0.85
)

// passageMaxLen is the cross-encoder context window in characters.
const passageMaxLen = 512

// Reranker re-scores candidates against the query with a cross-encoder.
type Reranker interface {
	// Rerank returns candidates reordered by blended score, trimmed to topK.
	Rerank(ctx context.Context, query string, candidates []Result, topK int) ([]Result, error)
}

var (
	attachmentsRe = regexp.MustCompile(`(?s)Attachments?:.*$`)
	relatedRe     = regexp.MustCompile(`(?s)Related [Aa]rticles?:.*$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// cleanPassage strips boilerplate sections and collapses whitespace
// before the passage reaches the cross-encoder.
func cleanPassage(text string) string {
	text = attachmentsRe.ReplaceAllString(text, "")
	text = relatedRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	return truncateOnRune(text, passageMaxLen)
}

// truncateOnRune cuts s to at most n bytes, backing up to a rune start so
// a multi-byte character is never split.
func truncateOnRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// HTTPReranker calls a model server exposing a /rerank route. A circuit
// breaker sheds load when the server misbehaves; callers degrade to the
// fusion ranking.
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates the cross-encoder client.
func NewHTTPReranker(endpoint, model string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reranker",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

type rerankRequest struct {
	Model    string   `json:"model"`
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores each candidate passage and blends the normalized
// cross-encoder score with the normalized fusion score.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Result, topK int) ([]Result, error) {
	if len(candidates) <= 1 {
		return trim(candidates, topK), nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = cleanPassage(c.Title + ". " + c.ContentPreview)
	}

	raw, err := r.score(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(candidates) {
		return nil, kberrors.New(kberrors.ErrCodeRerankFailed,
			fmt.Sprintf("reranker returned %d scores for %d candidates", len(raw), len(candidates)), nil)
	}

	return BlendRanking(candidates, raw, topK), nil
}

func (r *HTTPReranker) score(ctx context.Context, query string, passages []string) ([]float64, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Passages: passages})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(data))
		}
		var rr rerankResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return nil, fmt.Errorf("decode rerank response: %w", err)
		}
		return rr.Scores, nil
	})
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankFailed, "cross-encoder scoring failed", err)
	}
	return out.([]float64), nil
}

// BlendRanking combines min-max normalized cross-encoder and fusion
// scores, replaces each candidate's fusion score with the blend, and
// returns the re-sorted top k.
func BlendRanking(candidates []Result, rawScores []float64, topK int) []Result {
	normCE := minMaxNormalize(rawScores)

	fusionScores := make([]float64, len(candidates))
	for i, c := range candidates {
		fusionScores[i] = c.FusionScore
	}
	normFusion := minMaxNormalize(fusionScores)

	blended := make([]Result, len(candidates))
	for i, c := range candidates {
		raw := rawScores[i]
		c.RerankScore = &raw
		c.FusionScore = fusionWeight*normFusion[i] + rerankWeight*normCE[i]
		blended[i] = c
	}

	sort.SliceStable(blended, func(i, j int) bool {
		return blended[i].FusionScore > blended[j].FusionScore
	})
	return trim(blended, topK)
}

// minMaxNormalize maps scores to [0, 1]. A zero range maps everything
// to 0 with divisor 1 so equal inputs stay equal.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1.0
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = (s - lo) / rng
	}
	return out
}

func trim(results []Result, topK int) []Result {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
