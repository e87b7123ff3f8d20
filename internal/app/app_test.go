package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/greenledger/esgmap/internal/config"
	"github.com/greenledger/esgmap/internal/mapping"
	"github.com/greenledger/esgmap/internal/observe"
	"github.com/greenledger/esgmap/pkg/corpus"
	embmock "github.com/greenledger/esgmap/pkg/provider/embeddings/mock"
	"github.com/greenledger/esgmap/pkg/provider/llm"
	llmmock "github.com/greenledger/esgmap/pkg/provider/llm/mock"
	"github.com/greenledger/esgmap/pkg/vecindex"
)

const corpusJSON = `{
  "metadata": {"embedding_model": "test-embed", "embedding_dim": 3, "version": "v1"},
  "documents": [
    {"id": "GRI 305-1", "framework": "GRI", "category": "E", "title": "Direct (Scope 1) GHG emissions", "embedding": [1, 0, 0]},
    {"id": "GRI 302-1", "framework": "GRI", "category": "E", "title": "Energy consumption within the organization", "embedding": [0, 1, 0]}
  ]
}`

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Embeddings: config.ProviderEntry{Name: "local", Model: "test-embed"},
			LLM:        config.ProviderEntry{Name: "gemini", Model: "test-llm"},
		},
	}
}

func testProviders(llmP llm.Provider) *Providers {
	return &Providers{
		Embeddings: &embmock.Provider{
			QueryResult:     []float32{1, 0, 0},
			DimensionsValue: 3,
			ModelIDValue:    "test-embed",
		},
		LLM: llmP,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func goodVerdict(t *testing.T) *llm.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"matches": []map[string]any{
			{"standard_id": "GRI 305-1", "confidence": 0.9, "reasoning": "direct scope 1 figure"},
		},
		"summary": "Scope 1 disclosure.",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &llm.Response{Text: string(body), FinishReason: llm.FinishStop}
}

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esg_vectors.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_RequiresEmbeddings(t *testing.T) {
	_, err := New(context.Background(), testConfig(), &Providers{})
	if err == nil {
		t.Fatal("expected error without embeddings provider")
	}
}

func TestNew_FileCorpusEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Corpus.Path = writeCorpus(t, corpusJSON)

	llmP := &llmmock.Provider{GenerateResult: goodVerdict(t), ModelIDValue: "test-llm"}
	a, err := New(context.Background(), cfg, testProviders(llmP), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	body := `{"text": "Scope 1 emissions were 1,200 tCO2e in 2024", "language": "en"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/map", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/map status = %d, body %s", rec.Code, rec.Body)
	}
	var resp mapping.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Matches) == 0 || resp.Matches[0].StandardID != "GRI 305-1" {
		t.Errorf("matches = %+v", resp.Matches)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/corpus/status", nil)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/corpus/status status = %d", rec.Code)
	}
	var st vecindex.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.DocumentCount != 2 || st.EmbeddingModel != "test-embed" {
		t.Errorf("stats = %+v", st)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestNew_BrokenCorpusFailsStartup(t *testing.T) {
	cfg := testConfig()
	cfg.Corpus.Path = writeCorpus(t, `{"metadata": {"embedding_dim": 3}, "documents": [{"id": "", "embedding": [1,0,0]}]}`)

	_, err := New(context.Background(), cfg, testProviders(&llmmock.Provider{}), WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected startup failure on invalid corpus")
	}
}

func TestNew_InjectedIndex(t *testing.T) {
	snap := &corpus.Snapshot{
		Metadata: corpus.Metadata{EmbeddingModel: "test-embed", EmbeddingDim: 3, TotalDocuments: 1},
		Documents: []corpus.Entry{
			{ID: "GRI 305-1", Framework: corpus.FrameworkGRI, Category: corpus.CategoryEnvironment, Title: "Direct (Scope 1) GHG emissions", Embedding: []float32{1, 0, 0}},
		},
	}
	llmP := &llmmock.Provider{GenerateResult: goodVerdict(t), ModelIDValue: "test-llm"}
	a, err := New(context.Background(), testConfig(), testProviders(llmP),
		WithIndex(vecindex.NewFromSnapshot(snap)), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/v1/corpus/status", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st vecindex.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.DocumentCount != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFallbackOnlyMode(t *testing.T) {
	cfg := testConfig()
	cfg.Corpus.Path = writeCorpus(t, corpusJSON)
	cfg.Providers.LLM = config.ProviderEntry{}

	a, err := New(context.Background(), cfg, testProviders(nil), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	body := `{"text": "Scope 1 emissions were 1,200 tCO2e in 2024", "language": "en"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/map", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp mapping.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("expected degraded response without an llm provider")
	}
	if len(resp.Matches) == 0 {
		t.Error("fallback produced no matches")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Corpus.Path = writeCorpus(t, corpusJSON)
	cfg.Corpus.RefreshInterval = config.Duration(time.Minute)

	a, err := New(context.Background(), cfg, testProviders(&llmmock.Provider{}), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Corpus.Path = writeCorpus(t, corpusJSON)

	a, err := New(context.Background(), cfg, testProviders(&llmmock.Provider{}), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
