// Package platform holds the destination-platform collaborators: one upload
// boundary per social/video platform the dispatcher can target.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

// Known platform identifiers.
const (
	NameYouTube   = "youtube"
	NameFacebook  = "facebook"
	NameInstagram = "instagram"
)

var ErrUnknownDestination = errors.New("unknown destination")

// Request carries one item's payload and metadata to a single platform.
// Media is read once per upload; MediaURL is a publicly reachable URL to the
// same payload for platforms that ingest by URL instead of by byte stream.
type Request struct {
	Media       io.Reader
	Size        int64
	MediaURL    string
	Title       string
	Description string
	Tags        []string
	Niche       string
	Privacy     core.Privacy
}

// Result identifies the uploaded media on the remote platform.
type Result struct {
	RemoteID string `json:"remote_id"`
	URL      string `json:"url"`
}

// Destination is one platform's upload API.
type Destination interface {
	Name() string
	Upload(ctx context.Context, req *Request) (*Result, error)
}

// Registry maps platform identifiers to configured destinations.
type Registry struct {
	dests map[string]Destination
}

// NewRegistry creates a registry over the given destinations.
func NewRegistry(dests ...Destination) *Registry {
	r := &Registry{dests: make(map[string]Destination, len(dests))}
	for _, d := range dests {
		r.dests[d.Name()] = d
	}
	return r
}

// Register adds or replaces a destination.
func (r *Registry) Register(d Destination) {
	r.dests[d.Name()] = d
}

// Names returns the configured platform identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dests))
	for n := range r.dests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select resolves a destination set, in the given order. All names must be
// configured or the whole selection fails.
func (r *Registry) Select(names []string) ([]Destination, error) {
	out := make([]Destination, 0, len(names))
	for _, n := range names {
		d, ok := r.dests[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q (configured: %s)", ErrUnknownDestination, n, strings.Join(r.Names(), ", "))
		}
		out = append(out, d)
	}
	return out, nil
}

// Caption builds the social-post caption: description followed by up to five
// tags rendered as hashtags.
func Caption(title, description string, tags []string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
	}
	if description != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(description)
	}
	if len(tags) > 0 {
		if len(tags) > 5 {
			tags = tags[:5]
		}
		hashtags := make([]string, 0, len(tags))
		for _, t := range tags {
			t = strings.ReplaceAll(strings.TrimSpace(t), " ", "")
			if t != "" {
				hashtags = append(hashtags, "#"+t)
			}
		}
		if len(hashtags) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(strings.Join(hashtags, " "))
		}
	}
	return b.String()
}
