package core

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for queue operations.
var (
	ErrItemNotFound   = errors.New("queue item not found")
	ErrItemUploading  = errors.New("item is currently uploading")
	ErrMetadataFrozen = errors.New("metadata is frozen once the item has left pending")
	ErrNotPending     = errors.New("item is not pending")
	ErrNotRetryable   = errors.New("item is not in a retryable state")
)

// Queue holds the user-visible, mutable list of items prior to and during
// dispatch. It is the single shared structure: the dispatcher is the only
// writer of status/progress, the API layer the only writer of metadata.
// Construction and teardown are explicit; there is no process-wide instance.
type Queue struct {
	mu    sync.RWMutex
	items []*QueueItem
	index map[string]*QueueItem
}

// NewQueue creates an empty item queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[string]*QueueItem)}
}

// AddItems wraps each file reference into a new pending item, in order.
// No deduplication is performed.
func (q *Queue) AddItems(refs []FileRef) []*QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := make([]*QueueItem, 0, len(refs))
	for _, ref := range refs {
		it := NewItem(ref)
		q.items = append(q.items, it)
		q.index[it.ID] = it
		added = append(added, it.Clone())
	}
	return added
}

// RemoveItem takes an item out of the queue and returns it so the caller can
// release the stored payload. Removal of an uploading item is refused: an
// in-flight upload cannot be abandoned by mutating the queue underneath it.
func (q *Queue) RemoveItem(id string) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	if it.Status == StatusUploading {
		return nil, ErrItemUploading
	}

	delete(q.index, id)
	for i, cur := range q.items {
		if cur.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return it.Clone(), nil
}

// UpdateItem merges a metadata patch into an item. Only title, description
// and tags are reachable through this path; edits are refused once the item
// has left pending.
func (q *Queue) UpdateItem(id string, patch MetadataPatch) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	if it.Status != StatusPending {
		return nil, fmt.Errorf("%w (status %s)", ErrMetadataFrozen, it.Status)
	}
	it.applyPatch(patch)
	return it.Clone(), nil
}

// Item returns a copy of a single item.
func (q *Queue) Item(id string) (*QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	it, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// Snapshot returns copies of all items in enqueue order.
func (q *Queue) Snapshot() []*QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*QueueItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.Clone())
	}
	return out
}

// Len returns the number of items currently in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// IDsWhere returns, in enqueue order, the IDs of items matching the predicate.
func (q *Queue) IDsWhere(match func(ItemStatus) bool) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ids []string
	for _, it := range q.items {
		if match(it.Status) {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// ClearFinished removes all items in a terminal status and returns them so
// the caller can release their payloads.
func (q *Queue) ClearFinished() []*QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*QueueItem
	kept := q.items[:0]
	for _, it := range q.items {
		if it.Status.Terminal() {
			delete(q.index, it.ID)
			removed = append(removed, it.Clone())
		} else {
			kept = append(kept, it)
		}
	}
	q.items = kept
	return removed
}

// --- Dispatcher-owned transitions ---

// BeginUpload transitions pending → uploading and seeds a pending outcome for
// each selected destination.
func (q *Queue) BeginUpload(id string, destinations []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, it.Status)
	}

	it.Status = StatusUploading
	it.Error = ""
	it.Outcomes = make(map[string]Outcome, len(destinations))
	for _, d := range destinations {
		it.Outcomes[d] = Outcome{Status: DestPending}
	}
	return nil
}

// BeginRetry transitions failed/partial → uploading for a re-dispatch.
// Outcomes of destinations that already succeeded are preserved so they are
// never re-uploaded; everything else is reset to pending. It returns the
// destinations that still need an upload.
func (q *Queue) BeginRetry(id string, destinations []string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	if !it.Status.Retryable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, it.Status)
	}

	var remaining []string
	outcomes := make(map[string]Outcome, len(destinations))
	for _, d := range destinations {
		if prev, ok := it.Outcomes[d]; ok && prev.Status == DestSucceeded {
			outcomes[d] = prev
			continue
		}
		outcomes[d] = Outcome{Status: DestPending}
		remaining = append(remaining, d)
	}

	it.Status = StatusUploading
	it.Error = ""
	it.Outcomes = outcomes
	return remaining, nil
}

// SetOutcome records the result for one (item, destination) pair and advances
// progress proportionally to the resolved destinations. Progress never
// decreases and stays below 100 until the item is finished.
func (q *Queue) SetOutcome(id, destination string, oc Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return ErrItemNotFound
	}
	it.Outcomes[destination] = oc
	if oc.Status == DestFailed && oc.Error != "" && it.Error == "" {
		// First error encountered wins.
		it.Error = oc.Error
	}

	var resolved int
	for _, o := range it.Outcomes {
		if o.Status != DestPending {
			resolved++
		}
	}
	if n := len(it.Outcomes); n > 0 {
		pct := resolved * 100 / n
		if pct > 99 {
			pct = 99
		}
		if pct > it.Progress {
			it.Progress = pct
		}
	}
	return nil
}

// FinishItem derives and applies the terminal status from the recorded
// outcomes. A fully succeeded item gets progress 100; otherwise the first
// failure reason (in destination order of the outcome seed) becomes the
// item error.
func (q *Queue) FinishItem(id string) (ItemStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return "", ErrItemNotFound
	}

	status := DeriveStatus(it.Outcomes)
	if status == StatusPending {
		// Nothing resolved at all, e.g. cancelled before the first call.
		status = StatusFailed
	}
	it.Status = status

	if status == StatusSucceeded {
		it.Progress = 100
		it.Error = ""
		return status, nil
	}
	if it.Error == "" {
		it.Error = "upload did not complete"
	}
	return status, nil
}
