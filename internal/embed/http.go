package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// unitNormTolerance is the allowed deviation from unit length before a
// returned vector is renormalized.
const unitNormTolerance = 1e-4

// HTTPEmbedder calls a model-serving endpoint that exposes an
// /embed route accepting {"model": ..., "texts": [...]} and returning
// {"embeddings": [[...], ...]}.
type HTTPEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
	maxRetries int
}

// compile-time interface check
var _ Embedder = (*HTTPEmbedder)(nil)

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.client = c }
}

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(n int) HTTPOption {
	return func(e *HTTPEmbedder) { e.maxRetries = n }
}

// NewHTTPEmbedder creates an embedder backed by a remote model server.
func NewHTTPEmbedder(endpoint, model string, dimensions int, timeout time.Duration, opts ...HTTPOption) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &HTTPEmbedder{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		maxRetries: 2,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery generates a query embedding.
func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, RoleQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedPassage generates a passage embedding.
func (e *HTTPEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, RolePassage)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, kberrors.InvalidInput("no texts to embed")
	}
	for i, t := range texts {
		if t == "" {
			return nil, kberrors.InvalidInput(fmt.Sprintf("empty text at index %d", i))
		}
	}

	prefixed := make([]string, len(texts))
	prefix := prefixFor(e.model, role)
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	var vecs [][]float32
	operation := func() error {
		var err error
		vecs, err = e.post(ctx, prefixed)
		if err != nil && !kberrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	for i := range vecs {
		if len(vecs[i]) != e.dimensions {
			return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(vecs[i]), e.dimensions), nil)
		}
		if n := vectorNorm(vecs[i]); n < 1-unitNormTolerance || n > 1+unitNormTolerance {
			normalizeVector(vecs[i])
		}
	}
	return vecs, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Texts: texts})
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kberrors.EmbeddingFailed(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, kberrors.EmbeddingFailed(
			fmt.Errorf("embed endpoint returned %d: %s", resp.StatusCode, string(data)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, kberrors.EmbeddingFailed(fmt.Errorf("decode embed response: %w", err))
	}
	if len(out.Embeddings) != len(texts) {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("model returned %d embeddings for %d texts", len(out.Embeddings), len(texts)), nil)
	}
	return out.Embeddings, nil
}

// Dimensions returns the configured vector size.
func (e *HTTPEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.model }

// Available probes the model server's health endpoint.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
