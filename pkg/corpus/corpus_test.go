package corpus

import (
	"errors"
	"strings"
	"testing"
)

const sampleSnapshot = `{
	"metadata": {
		"embedding_model": "intfloat/multilingual-e5-base",
		"embedding_dim": 3,
		"total_documents": 2,
		"version": "2026-08-01"
	},
	"documents": [
		{
			"id": "GRI 305-1",
			"framework": "GRI",
			"category": "E",
			"topic": "Emissions",
			"title": "Direct (Scope 1) GHG emissions",
			"title_ko": "직접 온실가스 배출 (Scope 1)",
			"description": "Gross direct GHG emissions in metric tons of CO2 equivalent.",
			"keywords": ["scope 1", "ghg", "emissions"],
			"embedding": [1, 0, 0]
		},
		{
			"id": "SASB TC-SI-130a.1",
			"framework": "SASB",
			"category": "E",
			"topic": "Energy Management",
			"title": "Total energy consumed",
			"description": "Total energy consumed, percentage grid electricity, percentage renewable.",
			"embedding": [0, 1, 0]
		}
	]
}`

func TestLoadFromReader(t *testing.T) {
	snap, err := LoadFromReader(strings.NewReader(sampleSnapshot))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got, want := len(snap.Documents), 2; got != want {
		t.Fatalf("documents: got %d, want %d", got, want)
	}
	if got, want := snap.Metadata.EmbeddingDim, 3; got != want {
		t.Errorf("embedding_dim: got %d, want %d", got, want)
	}
	if got, want := snap.Documents[0].ID, "GRI 305-1"; got != want {
		t.Errorf("documents[0].id: got %q, want %q", got, want)
	}
	if got, want := snap.Documents[0].Framework, FrameworkGRI; got != want {
		t.Errorf("documents[0].framework: got %q, want %q", got, want)
	}
}

func TestLoadFromReader_DimensionMismatch(t *testing.T) {
	bad := strings.Replace(sampleSnapshot, `"embedding": [0, 1, 0]`, `"embedding": [0, 1]`, 1)
	if _, err := LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for inconsistent embedding dimensions, got nil")
	}
}

func TestLoadFromReader_InferredDimension(t *testing.T) {
	noDim := strings.Replace(sampleSnapshot, `"embedding_dim": 3,`, "", 1)
	snap, err := LoadFromReader(strings.NewReader(noDim))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got, want := snap.Metadata.EmbeddingDim, 3; got != want {
		t.Errorf("inferred embedding_dim: got %d, want %d", got, want)
	}
}

func TestLoadFromReader_EmptyCorpus(t *testing.T) {
	snap, err := LoadFromReader(strings.NewReader(`{"metadata": {"embedding_dim": 768}, "documents": []}`))
	if err != nil {
		t.Fatalf("empty corpus should be valid: %v", err)
	}
	if len(snap.Documents) != 0 {
		t.Errorf("documents: got %d, want 0", len(snap.Documents))
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir() + "/missing.json")
	if !errors.Is(err, ErrCorpusNotFound) {
		t.Fatalf("expected ErrCorpusNotFound, got %v", err)
	}
}

func TestParseFramework(t *testing.T) {
	tests := []struct {
		in      string
		want    Framework
		wantErr bool
	}{
		{"GRI", FrameworkGRI, false},
		{"gri", FrameworkGRI, false},
		{" esrs ", FrameworkESRS, false},
		{"ISO", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFramework(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFramework(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFramework(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFramework(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCategoryDisplay(t *testing.T) {
	tests := []struct {
		in   Category
		want string
	}{
		{CategoryEnvironment, "Environment"},
		{CategorySocial, "Social"},
		{CategoryGovernance, "Governance"},
		{Category("general"), "General"},
		{Category("X"), "X"},
	}
	for _, tt := range tests {
		if got := tt.in.Display(); got != tt.want {
			t.Errorf("Category(%q).Display(): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocalizedTitle(t *testing.T) {
	e := Entry{Title: "Direct GHG emissions", TitleKo: "직접 온실가스 배출"}
	if got := e.LocalizedTitle("ko"); got != "직접 온실가스 배출" {
		t.Errorf("ko title: got %q", got)
	}
	if got := e.LocalizedTitle("en"); got != "Direct GHG emissions" {
		t.Errorf("en title: got %q", got)
	}
	noKo := Entry{Title: "Total energy consumed"}
	if got := noKo.LocalizedTitle("ko"); got != "Total energy consumed" {
		t.Errorf("ko fallback: got %q", got)
	}
}
