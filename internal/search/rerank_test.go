package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

func TestCleanPassage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"strips attachments section",
			"USB policy overview. Attachments: usb-form.pdf, usb-guide.docx",
			"USB policy overview.",
		},
		{
			"strips related articles section",
			"VPN setup steps.\nRelated Articles:\n- VPN FAQ\n- VPN Troubleshooting",
			"VPN setup steps.",
		},
		{
			"collapses whitespace",
			"line one\n\n   line   two\t\tend",
			"line one line two end",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanPassage(tt.in))
		})
	}
}

func TestCleanPassage_TruncatesToContextWindow(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := cleanPassage(long)
	assert.Len(t, got, passageMaxLen)
}

func TestCleanPassage_TruncationKeepsValidUTF8(t *testing.T) {
	// Place a two-byte rune straddling the truncation point.
	long := strings.Repeat("x", passageMaxLen-1) + "é-suffix"
	got := cleanPassage(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", passageMaxLen-1), got)
}

func TestTruncateOnRune(t *testing.T) {
	assert.Equal(t, "ab", truncateOnRune("abc", 2))
	assert.Equal(t, "abc", truncateOnRune("abc", 5))
	// Cutting inside a multi-byte rune backs up to its start.
	assert.Equal(t, "a", truncateOnRune("aé", 2))
}

func TestMinMaxNormalize(t *testing.T) {
	got := minMaxNormalize([]float64{2, 6, 4})
	assert.InDeltaSlice(t, []float64{0, 1, 0.5}, got, 1e-9)

	// Zero range keeps equal inputs equal instead of dividing by zero.
	flat := minMaxNormalize([]float64{3, 3, 3})
	assert.InDeltaSlice(t, []float64{0, 0, 0}, flat, 1e-9)

	assert.Nil(t, minMaxNormalize(nil))
}

func TestBlendRanking(t *testing.T) {
	candidates := []Result{
		{ArticleID: "weak", FusionScore: 0.3},
		{ArticleID: "strong", FusionScore: 0.8},
		{ArticleID: "middle", FusionScore: 0.5},
	}
	// The cross-encoder loves "weak", but fusion dominates the blend.
	raw := []float64{9.0, 1.0, 3.0}

	out := BlendRanking(candidates, raw, 3)

	require.Len(t, out, 3)
	assert.Equal(t, "strong", out[0].ArticleID)
	// strong: fusion norm 1.0, ce norm 0.0.
	assert.InDelta(t, 0.85, out[0].FusionScore, 1e-9)
	require.NotNil(t, out[0].RerankScore)
	assert.InDelta(t, 1.0, *out[0].RerankScore, 1e-9)
	// weak: fusion norm 0.0, ce norm 1.0.
	last := out[len(out)-1]
	assert.Equal(t, "weak", last.ArticleID)
	assert.InDelta(t, 0.15, last.FusionScore, 1e-9)
}

func TestBlendRanking_TrimsToTopK(t *testing.T) {
	candidates := []Result{
		{ArticleID: "a", FusionScore: 0.9},
		{ArticleID: "b", FusionScore: 0.5},
		{ArticleID: "c", FusionScore: 0.1},
	}
	out := BlendRanking(candidates, []float64{1, 2, 3}, 2)
	assert.Len(t, out, 2)
}

func TestHTTPReranker_Rerank(t *testing.T) {
	var gotReq rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.2, 4.1}})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "ms-marco-MiniLM-L-6-v2", time.Second)
	candidates := []Result{
		{ArticleID: "a1", Title: "Adobe Runbook", ContentPreview: "Provision Adobe licenses.", FusionScore: 0.3},
		{ArticleID: "a2", Title: "Flash Drive Policy", ContentPreview: "Removable storage is forbidden.", FusionScore: 0.8},
	}

	out, err := rr.Rerank(context.Background(), "can i use a flash drive", candidates, 2)
	require.NoError(t, err)

	assert.Equal(t, "can i use a flash drive", gotReq.Query)
	require.Len(t, gotReq.Passages, 2)
	assert.Equal(t, "Adobe Runbook. Provision Adobe licenses.", gotReq.Passages[0])

	require.Len(t, out, 2)
	// a2 wins on both signals.
	assert.Equal(t, "a2", out[0].ArticleID)
	assert.InDelta(t, 1.0, out[0].FusionScore, 1e-9)
}

func TestHTTPReranker_SingleCandidatePassesThrough(t *testing.T) {
	rr := NewHTTPReranker("http://unused", "m", time.Second)
	in := []Result{{ArticleID: "only", FusionScore: 0.4}}

	out, err := rr.Rerank(context.Background(), "q", in, 5)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHTTPReranker_ScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.5}})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "m", time.Second)
	_, err := rr.Rerank(context.Background(), "q", []Result{{ArticleID: "a"}, {ArticleID: "b"}}, 2)
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeRerankFailed, kberrors.GetCode(err))
}

func TestHTTPReranker_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "m", time.Second)
	candidates := []Result{{ArticleID: "a"}, {ArticleID: "b"}}

	for i := 0; i < 5; i++ {
		_, err := rr.Rerank(context.Background(), "q", candidates, 2)
		require.Error(t, err)
	}
	// The breaker trips after three consecutive failures and stops
	// hitting the server.
	assert.Equal(t, 3, calls)
}
