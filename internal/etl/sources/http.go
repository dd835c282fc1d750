package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"curator/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches a JSON document from a REST endpoint.
// GET responses are cached briefly so previews followed by a run hit the
// endpoint once.

const (
	defaultHTTPCacheSize = 64
	defaultHTTPCacheTTL  = 30 * time.Second
	httpTimeout          = 30 * time.Second
	maxHTTPBody          = 64 << 20
)

var (
	httpCacheMu sync.RWMutex
	httpCache   = expirable.NewLRU[string, []byte](defaultHTTPCacheSize, nil, defaultHTTPCacheTTL)
)

// ConfigureHTTPCache replaces the response cache. A ttl <= 0 disables caching.
func ConfigureHTTPCache(size int, ttl time.Duration) {
	httpCacheMu.Lock()
	defer httpCacheMu.Unlock()
	if ttl <= 0 || size <= 0 {
		httpCache = nil
		return
	}
	httpCache = expirable.NewLRU[string, []byte](size, nil, ttl)
}

func cachedResponse(key string) ([]byte, bool) {
	httpCacheMu.RLock()
	defer httpCacheMu.RUnlock()
	if httpCache == nil {
		return nil, false
	}
	return httpCache.Get(key)
}

func storeResponse(key string, data []byte) {
	httpCacheMu.RLock()
	defer httpCacheMu.RUnlock()
	if httpCache != nil {
		httpCache.Add(key, data)
	}
}

type httpSource struct {
	client *http.Client
}

func init() { etl.RegisterSource(&httpSource{client: &http.Client{Timeout: httpTimeout}}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch (e.g., https://example.com/api/results)"},
			{Key: "method", Label: "Method", Type: "select", Required: false, Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Required: false, Help: "JSON object of headers (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "textarea", Required: false, Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the records in the response (e.g., 'data.items')"},
		},
	}
}

func (s *httpSource) Fetch(ctx context.Context, cfg etl.SourceConfig) ([]byte, error) {
	url := cfg.String("url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	headers := map[string]string{}
	if h := cfg.String("headers"); h != "" {
		if err := json.Unmarshal([]byte(h), &headers); err != nil {
			return nil, fmt.Errorf("parse headers: %w", err)
		}
	}

	cacheKey := ""
	if method == http.MethodGet {
		cacheKey = url + "\n" + cfg.String("headers")
		if data, ok := cachedResponse(cacheKey); ok {
			return navigatePath(data, cfg.String("dataPath"))
		}
	}

	var bodyReader io.Reader
	if body := cfg.String("body"); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if cacheKey != "" {
		storeResponse(cacheKey, data)
	}
	return navigatePath(data, cfg.String("dataPath"))
}
