package scoring

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/httpclient"
)

var ErrEmbedderUnavailable = errors.New("embedding service unavailable")

// Embedder turns texts into vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Ping(ctx context.Context) error
}

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEmbedder calls a sentence-embedding service and keeps vectors in
// process, keyed by model and text.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client

	mu    sync.RWMutex
	cache map[string][]float32
	limit int
}

func NewHTTPEmbedder(baseURL, model string, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = httpclient.New(5 * time.Second)
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		cache:   make(map[string][]float32),
		limit:   10000,
	}
}

func (e *HTTPEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close()
	if err := httpclient.CheckStatus(resp); err != nil {
		return fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	return nil
}

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	missingIdx := make(map[string][]int)

	e.mu.RLock()
	for i, text := range texts {
		if vec, ok := e.cache[e.cacheKey(text)]; ok {
			out[i] = vec
			continue
		}
		if _, queued := missingIdx[text]; !queued {
			missing = append(missing, text)
		}
		missingIdx[text] = append(missingIdx[text], i)
	}
	e.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	var vectors [][]float32
	err := httpclient.Retry(ctx, 2, 100*time.Millisecond, func() error {
		var err error
		vectors, err = e.post(ctx, missing)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for i, text := range missing {
		if len(e.cache) < e.limit {
			e.cache[e.cacheKey(text)] = vectors[i]
		}
		for _, idx := range missingIdx[text] {
			out[idx] = vectors[i]
		}
	}
	e.mu.Unlock()
	return out, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Texts: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, err
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(decoded.Embeddings))
	}
	return decoded.Embeddings, nil
}

func (e *HTTPEmbedder) cacheKey(text string) string {
	h := sha1.Sum([]byte(e.model + "|" + text))
	return hex.EncodeToString(h[:])
}
