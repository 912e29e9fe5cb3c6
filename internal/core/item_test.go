package core

import "testing"

func TestTitleFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"strips extension", "sunset.mp4", "sunset"},
		{"replaces underscores", "my_cool_reel.mp4", "my cool reel"},
		{"replaces dashes", "beach-day-vlog.mov", "beach day vlog"},
		{"inner dots become spaces", "part.one.final.mp4", "part one final"},
		{"collapses runs of separators", "a__b--c.mp4", "a b c"},
		{"strips directory", "/videos/2026/clip_01.mp4", "clip 01"},
		{"strips windows path", "C:\\videos\\clip_01.mp4", "clip 01"},
		{"empty name", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromFilename(tt.input); got != tt.expected {
				t.Errorf("TitleFromFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewItem(t *testing.T) {
	ref := FileRef{Filename: "my_clip.mp4", StorageKey: "abc.mp4", Size: 42}

	a := NewItem(ref)
	b := NewItem(ref)

	if a.ID == b.ID {
		t.Error("two items from the same file must have independent IDs")
	}
	if a.Status != StatusPending {
		t.Errorf("new item status = %s, want pending", a.Status)
	}
	if a.Progress != 0 {
		t.Errorf("new item progress = %d, want 0", a.Progress)
	}
	if a.Title != "my clip" {
		t.Errorf("title = %q, want %q", a.Title, "my clip")
	}
	if a.Outcomes == nil {
		t.Error("outcomes map must be initialized")
	}
}

func TestCloneIsDeep(t *testing.T) {
	it := NewItem(FileRef{Filename: "x.mp4"})
	it.Tags = []string{"shorts"}
	it.Outcomes["youtube"] = Outcome{Status: DestPending}

	cp := it.Clone()
	cp.Tags[0] = "mutated"
	cp.Outcomes["youtube"] = Outcome{Status: DestFailed}

	if it.Tags[0] != "shorts" {
		t.Error("clone shares the tags slice")
	}
	if it.Outcomes["youtube"].Status != DestPending {
		t.Error("clone shares the outcomes map")
	}
}
