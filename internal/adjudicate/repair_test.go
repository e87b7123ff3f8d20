package adjudicate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	want := `{"matches": []}`
	tests := []struct {
		name string
		in   string
	}{
		{"bare", `{"matches": []}`},
		{"fenced with language", "```json\n{\"matches\": []}\n```"},
		{"fenced without language", "```\n{\"matches\": []}\n```"},
		{"leading prose", "Here is the result:\n{\"matches\": []}"},
		{"surrounding whitespace", "  \n{\"matches\": []}\n  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, want)
			}
		})
	}
}

func TestRepairTruncated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already valid",
			in:   `{"matches": [], "summary": "ok"}`,
			want: `{"matches": [], "summary": "ok"}`,
		},
		{
			name: "dangling string value",
			in:   `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8, "reasoning": "partial tex`,
			want: `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8}]}`,
		},
		{
			name: "cut after number",
			in:   `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8`,
			want: `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8}]}`,
		},
		{
			name: "cut between array elements",
			in:   `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8, "reasoning": "ok"}, {"standard_`,
			want: `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.8, "reasoning": "ok"}]}`,
		},
		{
			name: "cut after key colon",
			in:   `{"matches": [{"standard_id": "GRI 305-1", "confidence":`,
			want: `{"matches": [{"standard_id": "GRI 305-1"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repairTruncated(tt.in)
			if err != nil {
				t.Fatalf("repairTruncated: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("repaired output is not valid JSON: %q", got)
			}
		})
	}
}

func TestRepairTruncated_Unrepairable(t *testing.T) {
	// A dangling string whose only cut point leaves a bare key cannot be
	// closed at a value boundary either.
	for _, in := range []string{`{"matches`, `{"`, `[`, ``, `{"summary": "the \"Scope 1\" figu`} {
		if out, err := repairTruncated(in); !errors.Is(err, ErrTruncated) {
			t.Errorf("repairTruncated(%q) = %q, %v; want ErrTruncated", in, out, err)
		}
	}
}

// Repaired output must never contain an unterminated string no matter where
// the truncation falls.
func TestRepairTruncated_AnyPrefix(t *testing.T) {
	full := `{"matches": [{"standard_id": "GRI 305-1", "confidence": 0.87, "reasoning": "mentions \"Scope 1\" totals"}, {"standard_id": "GRI 302-1", "confidence": 0.6, "reasoning": "energy use"}], "summary": "emissions"}`
	for i := 1; i <= len(full); i++ {
		got, err := repairTruncated(full[:i])
		if err != nil {
			continue
		}
		if !json.Valid([]byte(got)) {
			t.Fatalf("prefix %d: invalid repair %q", i, got)
		}
		if strings.Count(got, `"`)%2 != 0 {
			t.Fatalf("prefix %d: odd quote count in %q", i, got)
		}
	}
}
