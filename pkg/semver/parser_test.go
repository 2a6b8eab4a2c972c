package semver

import (
	"testing"
)

func TestParseServiceRef_BasicFormat(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTag   string
		wantRange string
		wantErr   bool
	}{
		{
			name:    "no version",
			input:   "wallet",
			wantTag: "wallet",
		},
		{
			name:      "major only",
			input:     "wallet@3",
			wantTag:   "wallet",
			wantRange: "3",
		},
		{
			name:      "exact version",
			input:     "wallet@3.2.1",
			wantTag:   "wallet",
			wantRange: "3.2.1",
		},
		{
			name:      "caret range",
			input:     "wallet@^3.2.0",
			wantTag:   "wallet",
			wantRange: "^3.2.0",
		},
		{
			name:      "tilde range",
			input:     "wallet@~3.2.0",
			wantTag:   "wallet",
			wantRange: "~3.2.0",
		},
		{
			name:      "comparison range",
			input:     "wallet@>=2.0.0 <4.0.0",
			wantTag:   "wallet",
			wantRange: ">=2.0.0 <4.0.0",
		},
		{
			name:    "dotted tag with whitespace",
			input:   "  key.ops  ",
			wantTag: "key.ops",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "missing tag",
			input:   "@1",
			wantErr: true,
		},
		{
			name:    "empty range",
			input:   "wallet@",
			wantErr: true,
		},
		{
			name:    "invalid range",
			input:   "wallet@not-a-range",
			wantErr: true,
		},
		{
			name:    "invalid tag characters",
			input:   "wal let",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseServiceRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("semver:parser_test - expected error for %q, got %+v", tt.input, ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if ref.Tag != tt.wantTag {
				t.Errorf("semver:parser_test - Tag = %q, want %q", ref.Tag, tt.wantTag)
			}
			if ref.Range != tt.wantRange {
				t.Errorf("semver:parser_test - Range = %q, want %q", ref.Range, tt.wantRange)
			}
		})
	}
}

func TestServiceRef_String(t *testing.T) {
	for _, input := range []string{"wallet", "wallet@^1.2.0", "key.ops@2"} {
		ref, err := ParseServiceRef(input)
		if err != nil {
			t.Fatalf("semver:parser_test - ParseServiceRef(%q): %v", input, err)
		}
		if ref.String() != input {
			t.Errorf("semver:parser_test - String() = %q, want %q", ref.String(), input)
		}
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := map[string]bool{"3": true, "12": true, "3.2": false, "^3": false, "": false}
	for in, want := range tests {
		if got := IsMajorOnly(in); got != want {
			t.Errorf("semver:parser_test - IsMajorOnly(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsExactVersion(t *testing.T) {
	tests := map[string]bool{"3.2.1": true, "1.0.0-beta.1": true, "1.0.0+build.5": true, "3.2": false, "^3.2.1": false}
	for in, want := range tests {
		if got := IsExactVersion(in); got != want {
			t.Errorf("semver:parser_test - IsExactVersion(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExtractMajorFromRange(t *testing.T) {
	if got := ExtractMajorFromRange("4"); got != 4 {
		t.Errorf("semver:parser_test - ExtractMajorFromRange(4) = %d", got)
	}
	if got := ExtractMajorFromRange("^4"); got != -1 {
		t.Errorf("semver:parser_test - ExtractMajorFromRange(^4) = %d, want -1", got)
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion("1.2.3"); err != nil {
		t.Errorf("semver:parser_test - ValidateVersion(1.2.3) = %v", err)
	}
	if err := ValidateVersion("banana"); err == nil {
		t.Errorf("semver:parser_test - expected error for banana")
	}
}
