package embeddings

import (
	"context"
	"sync"
)

// Lazy defers construction of an expensive Provider until its first use.
// Loading a local embedding model or probing a remote endpoint can take
// seconds, so service startup constructs a Lazy and the cost is paid on the
// first mapping request instead.
//
// The construct function is invoked at most once. If it fails, the error is
// returned from every subsequent call; Lazy does not retry.
type Lazy struct {
	construct func() (Provider, error)

	once sync.Once
	p    Provider
	err  error
}

var _ Provider = (*Lazy)(nil)

// NewLazy wraps construct into a Provider that is built on first use.
func NewLazy(construct func() (Provider, error)) *Lazy {
	return &Lazy{construct: construct}
}

func (l *Lazy) get() (Provider, error) {
	l.once.Do(func() {
		l.p, l.err = l.construct()
	})
	return l.p, l.err
}

// EmbedQuery implements Provider.
func (l *Lazy) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.EmbedQuery(ctx, text)
}

// EmbedDocuments implements Provider.
func (l *Lazy) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.EmbedDocuments(ctx, texts)
}

// Dimensions implements Provider. It returns 0 if the underlying provider
// cannot be constructed.
func (l *Lazy) Dimensions() int {
	p, err := l.get()
	if err != nil {
		return 0
	}
	return p.Dimensions()
}

// ModelID implements Provider. It returns an empty string if the underlying
// provider cannot be constructed.
func (l *Lazy) ModelID() string {
	p, err := l.get()
	if err != nil {
		return ""
	}
	return p.ModelID()
}
