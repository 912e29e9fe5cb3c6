package core

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueueItem is one media upload task with its metadata and status.
// Status, Progress, Error and Outcomes are owned by the dispatcher;
// Title, Description and Tags are owned by the user until dispatch starts.
type QueueItem struct {
	ID          string             `json:"id"`
	StorageKey  string             `json:"storage_key"`
	Filename    string             `json:"filename"`
	Size        int64              `json:"size"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags"`
	Status      ItemStatus         `json:"status"`
	Progress    int                `json:"progress"`
	Error       string             `json:"error,omitempty"`
	Outcomes    map[string]Outcome `json:"outcomes"`
	CreatedAt   time.Time          `json:"created_at"`
}

// FileRef points at a stored media payload to be enqueued.
type FileRef struct {
	Filename   string
	StorageKey string
	Size       int64
}

// NewItem wraps a stored file into a fresh pending item. The title defaults
// from the filename; the same file enqueued twice yields two independent items.
func NewItem(ref FileRef) *QueueItem {
	return &QueueItem{
		ID:         uuid.NewString(),
		StorageKey: ref.StorageKey,
		Filename:   ref.Filename,
		Size:       ref.Size,
		Title:      TitleFromFilename(ref.Filename),
		Status:     StatusPending,
		Outcomes:   make(map[string]Outcome),
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy safe to hand outside the queue lock.
func (it *QueueItem) Clone() *QueueItem {
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	cp.Outcomes = make(map[string]Outcome, len(it.Outcomes))
	for k, v := range it.Outcomes {
		cp.Outcomes[k] = v
	}
	return &cp
}

// MetadataPatch carries a partial metadata edit. Nil fields are left
// untouched; Tags replaces the whole tag list when non-nil.
type MetadataPatch struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

func (it *QueueItem) applyPatch(p MetadataPatch) {
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Tags != nil {
		it.Tags = append([]string(nil), p.Tags...)
	}
}

// titleSeparators are the characters replaced by spaces when deriving a
// title from a filename.
var titleSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ")

// TitleFromFilename strips the extension and turns separator characters
// into single spaces: "my_cool-reel.final.mp4" becomes "my cool reel final".
func TitleFromFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Join(strings.Fields(titleSeparators.Replace(base)), " ")
}
