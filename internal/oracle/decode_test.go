package oracle

import (
	"errors"
	"fmt"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare object", `{"action":"pass"}`, `{"action":"pass"}`, false},
		{"fenced", "```json\n{\"action\":\"pass\"}\n```", `{"action":"pass"}`, false},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around object", `Sure, here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"empty", "", "", true},
		{"no object", "just words", "", true},
		{"broken json", `{"a":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("extractJSON(%q) = %q, want error", tt.raw, got)
				}
				if !IsParseError(err) {
					t.Errorf("error %v is not a ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractJSON(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	got, err := decodeStrict[Classification](`{"action":"pass","confidence":0.9,"reason":"question"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != "pass" || got.Confidence != 0.9 {
		t.Errorf("decoded = %+v", got)
	}

	if _, err := decodeStrict[Classification](`{"action":["not","a","string"]}`); err == nil {
		t.Error("type mismatch should fail")
	} else if !IsParseError(err) {
		t.Errorf("error %v is not a ParseError", err)
	}
}

func TestIsParseError_Wrapped(t *testing.T) {
	base := &ParseError{Raw: "x", Err: errors.New("boom")}
	wrapped := fmt.Errorf("classify: %w", base)
	if !IsParseError(wrapped) {
		t.Error("wrapped ParseError should be detected")
	}
	if IsParseError(errors.New("plain")) {
		t.Error("plain error misdetected as ParseError")
	}
}
