// Package corpus defines the ESG standards corpus: the fixed set of
// standardized disclosure items (GRI, SASB, TCFD, ESRS codes) that report
// text is mapped against, together with the loader for the pre-embedded
// corpus snapshot file.
//
// The corpus is produced offline (see cmd/esgmap-index) and treated as
// immutable input at runtime. A whole snapshot is the unit of versioning —
// consumers swap in a complete new snapshot, never mutate individual entries.
package corpus

import (
	"fmt"
	"strings"
)

// Framework identifies a sustainability-disclosure standards framework.
type Framework string

const (
	FrameworkGRI  Framework = "GRI"
	FrameworkSASB Framework = "SASB"
	FrameworkTCFD Framework = "TCFD"
	FrameworkESRS Framework = "ESRS"
)

// Frameworks lists all recognised frameworks in canonical order.
func Frameworks() []Framework {
	return []Framework{FrameworkGRI, FrameworkSASB, FrameworkTCFD, FrameworkESRS}
}

// IsValid reports whether f is a recognised framework.
func (f Framework) IsValid() bool {
	switch f {
	case FrameworkGRI, FrameworkSASB, FrameworkTCFD, FrameworkESRS:
		return true
	}
	return false
}

// ParseFramework converts a string into a [Framework], accepting any casing.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToUpper(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("corpus: unknown framework %q; valid values: GRI, SASB, TCFD, ESRS", s)
	}
	return f, nil
}

// Category classifies an entry along the E/S/G axis.
type Category string

const (
	CategoryEnvironment Category = "E"
	CategorySocial      Category = "S"
	CategoryGovernance  Category = "G"
	CategoryGeneral     Category = "GENERAL"
)

// Display returns the human-readable name for the category
// (e.g. "E" → "Environment"). Unrecognised categories are returned verbatim.
func (c Category) Display() string {
	switch Category(strings.ToUpper(string(c))) {
	case CategoryEnvironment:
		return "Environment"
	case CategorySocial:
		return "Social"
	case CategoryGovernance:
		return "Governance"
	case CategoryGeneral:
		return "General"
	}
	return string(c)
}

// Entry is one standardized disclosure item with its precomputed embedding.
// Entries are immutable once loaded; callers must not modify any field.
type Entry struct {
	// ID is the stable disclosure code, e.g. "GRI 305-1".
	ID        string    `json:"id"`
	Framework Framework `json:"framework"`
	Category  Category  `json:"category"`
	Topic     string    `json:"topic"`

	// Title and Description are the English texts; the Ko variants hold the
	// Korean translations and may be empty for frameworks without one.
	Title         string `json:"title"`
	TitleKo       string `json:"title_ko,omitempty"`
	Description   string `json:"description"`
	DescriptionKo string `json:"description_ko,omitempty"`

	Keywords []string `json:"keywords,omitempty"`

	// Embedding is the precomputed, L2-normalized vector for this entry.
	Embedding []float32 `json:"embedding"`
}

// LocalizedTitle returns the Korean title when lang is "ko" and a Korean
// translation exists, and the English title otherwise.
func (e *Entry) LocalizedTitle(lang string) string {
	if lang == "ko" && e.TitleKo != "" {
		return e.TitleKo
	}
	return e.Title
}

// LocalizedDescription is the description counterpart of [Entry.LocalizedTitle].
func (e *Entry) LocalizedDescription(lang string) string {
	if lang == "ko" && e.DescriptionKo != "" {
		return e.DescriptionKo
	}
	return e.Description
}

// Metadata describes how a snapshot was produced.
type Metadata struct {
	// EmbeddingModel is the model identifier the embeddings were generated
	// with. Queries must be embedded with the same model.
	EmbeddingModel string `json:"embedding_model"`

	// EmbeddingDim is the dimensionality of every embedding in the snapshot.
	EmbeddingDim int `json:"embedding_dim"`

	TotalDocuments int `json:"total_documents"`

	// Version is an opaque corpus version string (e.g. a build timestamp).
	Version string `json:"version,omitempty"`
}

// Snapshot is a complete, versioned corpus: metadata plus all entries.
// A Snapshot is immutable after construction.
type Snapshot struct {
	Metadata  Metadata `json:"metadata"`
	Documents []Entry  `json:"documents"`
}
