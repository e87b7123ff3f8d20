package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrCorpusNotFound is returned by [Load] when the snapshot file does not
// exist. This is a deployment problem and should be treated as fatal at
// startup rather than handled per request.
var ErrCorpusNotFound = errors.New("corpus: snapshot file not found")

// Load reads and validates a corpus snapshot from the JSON file at path.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCorpusNotFound, path)
		}
		return nil, fmt.Errorf("corpus: open %q: %w", path, err)
	}
	defer f.Close()

	snap, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("corpus: parse %q: %w", path, err)
	}
	return snap, nil
}

// LoadFromReader decodes a snapshot from r and validates it. Useful in tests
// where snapshots are constructed from string literals.
func LoadFromReader(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := validate(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// validate checks internal consistency of a decoded snapshot. An empty
// corpus (zero documents) is valid — it yields zero search results, not an
// error.
func validate(snap *Snapshot) error {
	dim := snap.Metadata.EmbeddingDim
	for i := range snap.Documents {
		doc := &snap.Documents[i]
		if doc.ID == "" {
			return fmt.Errorf("document %d: empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %d (%s): missing embedding", i, doc.ID)
		}
		if dim == 0 {
			// Older snapshot files omit metadata.embedding_dim; infer it
			// from the first document.
			dim = len(doc.Embedding)
		}
		if len(doc.Embedding) != dim {
			return fmt.Errorf("document %d (%s): embedding dimension %d, want %d",
				i, doc.ID, len(doc.Embedding), dim)
		}
	}
	snap.Metadata.EmbeddingDim = dim
	if snap.Metadata.TotalDocuments == 0 {
		snap.Metadata.TotalDocuments = len(snap.Documents)
	}
	return nil
}
