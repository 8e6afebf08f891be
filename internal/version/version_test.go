package version

import (
	"strings"
	"testing"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{
			name:    "all values provided",
			version: "v1.0.0",
			commit:  "abcdef1234567890",
			want:    "v1.0.0-abcdef1",
		},
		{
			name:   "empty version",
			commit: "abcdef1234567890",
			want:   "dev-abcdef1",
		},
		{
			name:    "short commit",
			version: "v1.0.0",
			commit:  "abc",
			want:    "v1.0.0-abc",
		},
		{
			name: "nothing set",
			want: "dev-unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.version, tt.commit, "").Short()
			if got != tt.want {
				t.Errorf("Short() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	result := New("v1.0.0", "abcdef1234567890", "2024-01-01T00:00:00Z").String()

	for _, want := range []string{
		"vidbridge",
		"Version:    v1.0.0",
		"Commit:     abcdef1234567890",
		"Built:      2024-01-01T00:00:00Z",
		"Go version:",
		"OS/Arch:",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("String() should contain %q", want)
		}
	}
}

func TestGet(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "v2.3.4"
	if got := Get(); got.Version != "v2.3.4" || got.Platform == "" {
		t.Errorf("Get() = %+v", got)
	}
}
