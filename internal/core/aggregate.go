package core

// Counts is the read-side status projection. It carries no state of its own
// and is recomputed from item statuses whenever needed.
type Counts struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
}

// Total is the number of items accounted for.
func (c Counts) Total() int {
	return c.Pending + c.Uploading + c.Succeeded + c.Partial + c.Failed
}

// Add tallies one status.
func (c *Counts) Add(s ItemStatus) {
	switch s {
	case StatusPending:
		c.Pending++
	case StatusUploading:
		c.Uploading++
	case StatusSucceeded:
		c.Succeeded++
	case StatusPartial:
		c.Partial++
	case StatusFailed:
		c.Failed++
	}
}

// CountStatuses derives counts from a slice of items.
func CountStatuses(items []*QueueItem) Counts {
	var c Counts
	for _, it := range items {
		c.Add(it.Status)
	}
	return c
}

// Counts scans the current queue and tallies item statuses.
func (q *Queue) Counts() Counts {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var c Counts
	for _, it := range q.items {
		c.Add(it.Status)
	}
	return c
}
