package core

import (
	"errors"
	"fmt"
)

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusUploading ItemStatus = "uploading"
	StatusSucceeded ItemStatus = "succeeded"
	StatusPartial   ItemStatus = "partial"
	StatusFailed    ItemStatus = "failed"
)

// String returns the string representation of the status.
func (s ItemStatus) String() string {
	return string(s)
}

// Terminal reports whether no further automatic transitions occur.
func (s ItemStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusPartial || s == StatusFailed
}

// Retryable reports whether a re-dispatch may pick this item up again.
// Succeeded items are never re-uploaded.
func (s ItemStatus) Retryable() bool {
	return s == StatusFailed || s == StatusPartial
}

// DestStatus is the outcome state of one (item, destination) pair.
type DestStatus string

const (
	DestPending   DestStatus = "pending"
	DestSucceeded DestStatus = "succeeded"
	DestFailed    DestStatus = "failed"
)

// Outcome records the result of uploading one item to one destination.
type Outcome struct {
	Status   DestStatus `json:"status"`
	RemoteID string     `json:"remote_id,omitempty"`
	URL      string     `json:"url,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// DeriveStatus folds a per-destination outcome map into an item-level status:
// succeeded only if every destination succeeded, failed if none did,
// partial otherwise. An outcome still pending counts as not succeeded.
func DeriveStatus(outcomes map[string]Outcome) ItemStatus {
	if len(outcomes) == 0 {
		return StatusPending
	}
	var succeeded, resolved int
	for _, oc := range outcomes {
		if oc.Status != DestPending {
			resolved++
		}
		if oc.Status == DestSucceeded {
			succeeded++
		}
	}
	switch {
	case resolved == 0:
		return StatusPending
	case succeeded == len(outcomes):
		return StatusSucceeded
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Privacy is the visibility level applied to every item in a batch.
type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

var ErrInvalidPrivacy = errors.New("invalid privacy level")

// Valid reports whether p is one of the known privacy levels.
func (p Privacy) Valid() bool {
	return p == PrivacyPublic || p == PrivacyUnlisted || p == PrivacyPrivate
}

// BatchSettings is the process-wide configuration snapshotted at dispatch time.
type BatchSettings struct {
	Niche        string   `json:"niche"`
	Privacy      Privacy  `json:"privacy"`
	Destinations []string `json:"destinations"`
}

// ErrNoDestinations is returned when dispatch is requested with an empty
// destination set.
var ErrNoDestinations = errors.New("no destinations selected")

// Validate checks the dispatch preconditions that do not depend on queue state.
func (s BatchSettings) Validate() error {
	if len(s.Destinations) == 0 {
		return ErrNoDestinations
	}
	if !s.Privacy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPrivacy, s.Privacy)
	}
	return nil
}
