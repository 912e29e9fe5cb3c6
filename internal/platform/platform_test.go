package platform

import (
	"context"
	"testing"
)

type stubDest struct{ name string }

func (s *stubDest) Name() string { return s.name }
func (s *stubDest) Upload(context.Context, *Request) (*Result, error) { return &Result{}, nil }

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry(&stubDest{name: NameYouTube}, &stubDest{name: NameFacebook})

	t.Run("resolves in request order", func(t *testing.T) {
		dests, err := r.Select([]string{NameFacebook, NameYouTube})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dests[0].Name() != NameFacebook || dests[1].Name() != NameYouTube {
			t.Error("selection must preserve request order")
		}
	})

	t.Run("unknown destination fails the whole selection", func(t *testing.T) {
		if _, err := r.Select([]string{NameYouTube, "tiktok"}); err == nil {
			t.Error("expected error for unknown destination")
		}
	})

	t.Run("names are sorted", func(t *testing.T) {
		names := r.Names()
		if len(names) != 2 || names[0] != NameFacebook || names[1] != NameYouTube {
			t.Errorf("names = %v", names)
		}
	})
}

func TestCaption(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		desc     string
		tags     []string
		expected string
	}{
		{"title only", "My Reel", "", nil, "My Reel"},
		{"title and description", "My Reel", "A sunset.", nil, "My Reel\n\nA sunset."},
		{
			"tags become hashtags",
			"My Reel", "", []string{"shorts", "ai"},
			"My Reel\n\n#shorts #ai",
		},
		{
			"at most five hashtags",
			"", "", []string{"a", "b", "c", "d", "e", "f"},
			"#a #b #c #d #e",
		},
		{
			"spaces stripped from tags",
			"", "", []string{"true crime"},
			"#truecrime",
		},
		{"empty everything", "", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Caption(tt.title, tt.desc, tt.tags); got != tt.expected {
				t.Errorf("Caption() = %q, want %q", got, tt.expected)
			}
		})
	}
}
