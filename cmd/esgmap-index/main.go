// Command esgmap-index builds the corpus snapshot file consumed by the esgmap
// server. It reads per-framework JSONL catalogs of disclosure standards,
// embeds each entry with the configured embeddings provider, and writes the
// combined snapshot (metadata + documents with vectors) as a single JSON file.
//
// Catalog entries use the same fields as corpus documents, minus the
// embedding:
//
//	{"id": "GRI 305-1", "framework": "GRI", "category": "E", "topic": "Emissions",
//	 "title": "...", "title_ko": "...", "description": "...", "keywords": ["..."]}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/greenledger/esgmap/internal/config"
	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/provider/embeddings"
	geminiembed "github.com/greenledger/esgmap/pkg/provider/embeddings/gemini"
	localembed "github.com/greenledger/esgmap/pkg/provider/embeddings/local"
	oaembed "github.com/greenledger/esgmap/pkg/provider/embeddings/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (embeddings provider)")
	inDir := flag.String("in", "data/standards", "directory holding per-framework .jsonl catalogs")
	outPath := flag.String("out", "data/esg_vectors.json", "output snapshot file")
	version := flag.String("version", "", "corpus version label (default: current date)")
	batchSize := flag.Int("batch", 32, "documents per embedding request")
	concurrency := flag.Int("concurrency", 4, "concurrent embedding requests")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "esgmap-index: %v\n", err)
		return 1
	}

	provider, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entries, err := loadCatalogs(*inDir)
	if err != nil {
		slog.Error("failed to load catalogs", "err", err)
		return 1
	}
	if len(entries) == 0 {
		slog.Error("no catalog entries found", "dir", *inDir)
		return 1
	}
	slog.Info("catalogs loaded", "documents", len(entries), "dir", *inDir)

	if err := embedAll(ctx, provider, entries, *batchSize, *concurrency); err != nil {
		slog.Error("embedding failed", "err", err)
		return 1
	}

	label := *version
	if label == "" {
		label = time.Now().Format("2006-01-02")
	}
	snap := &corpus.Snapshot{
		Metadata: corpus.Metadata{
			EmbeddingModel: provider.ModelID(),
			EmbeddingDim:   len(entries[0].Embedding),
			TotalDocuments: len(entries),
			Version:        label,
		},
		Documents: entries,
	}

	if err := writeSnapshot(*outPath, snap); err != nil {
		slog.Error("failed to write snapshot", "err", err)
		return 1
	}
	slog.Info("snapshot written",
		"path", *outPath,
		"documents", len(entries),
		"dim", snap.Metadata.EmbeddingDim,
		"model", snap.Metadata.EmbeddingModel,
		"version", label,
	)
	return 0
}

// defaultEmbedTimeout bounds each embedding request when the config does not
// set providers.embeddings.timeout. Batches of 32 passages can take a while
// on CPU-only local servers.
const defaultEmbedTimeout = 120 * time.Second

// buildEmbeddings constructs the embeddings provider named in the config
// entry. The index builder supports the same provider set as the server.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	timeout := time.Duration(entry.Timeout)
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	switch entry.Name {
	case "local":
		return localembed.New(entry.BaseURL, entry.Model, localembed.WithTimeout(timeout))
	case "gemini":
		opts := []geminiembed.Option{geminiembed.WithTimeout(timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, geminiembed.WithBaseURL(entry.BaseURL))
		}
		return geminiembed.New(entry.APIKey, entry.Model, opts...)
	case "openai":
		opts := []oaembed.Option{oaembed.WithTimeout(timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// loadCatalogs reads every .jsonl file in dir and returns the parsed entries,
// sorted by framework then ID for a stable output file.
func loadCatalogs(dir string) ([]corpus.Entry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var entries []corpus.Entry
	for _, path := range paths {
		batch, err := loadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		slog.Info("catalog read", "path", path, "documents", len(batch))
		entries = append(entries, batch...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Framework != entries[j].Framework {
			return entries[i].Framework < entries[j].Framework
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// loadCatalog parses one JSONL catalog. Blank lines and lines starting with
// '#' are skipped.
func loadCatalog(path string) ([]corpus.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []corpus.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var e corpus.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if e.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", lineNo)
		}
		if _, err := corpus.ParseFramework(string(e.Framework)); err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", lineNo, e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// embedAll fills in the Embedding field of every entry, issuing batched
// EmbedDocuments calls with bounded concurrency.
func embedAll(ctx context.Context, p embeddings.Provider, entries []corpus.Entry, batchSize, concurrency int) error {
	if batchSize < 1 {
		batchSize = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		batch := entries[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = embedText(batch[i])
			}
			vecs, err := p.EmbedDocuments(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch starting at %q: %w", batch[0].ID, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed batch starting at %q: got %d vectors for %d texts", batch[0].ID, len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}

	return g.Wait()
}

// embedText composes the passage text for one standard: ID, title, topic,
// description, and keywords, so that retrieval can match any of them.
func embedText(e corpus.Entry) string {
	var b strings.Builder
	b.WriteString(e.ID)
	b.WriteString(" ")
	b.WriteString(e.Title)
	if e.Topic != "" {
		b.WriteString(" (")
		b.WriteString(e.Topic)
		b.WriteString(")")
	}
	if e.Description != "" {
		b.WriteString("\n")
		b.WriteString(e.Description)
	}
	if len(e.Keywords) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.Keywords, ", "))
	}
	return b.String()
}

// writeSnapshot marshals the snapshot and writes it atomically (temp file +
// rename) so a concurrent server reload never sees a half-written corpus.
func writeSnapshot(path string, snap *corpus.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
