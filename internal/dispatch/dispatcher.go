// Package dispatch drives queue items from pending to a terminal status by
// submitting them, one at a time, to the selected destination platforms.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oneclickreelsai/studious-system/internal/core"
	"github.com/oneclickreelsai/studious-system/internal/platform"
)

// ErrDispatchInProgress is returned when a dispatch is requested while a
// previous run's loop is still advancing.
var ErrDispatchInProgress = errors.New("dispatch already in progress")

// MediaSource provides payload readers and public URLs for stored media.
type MediaSource interface {
	OpenMedia(ctx context.Context, key string) (io.ReadCloser, int64, error)
	MediaURL(key string) string
}

// Run is one invocation of the dispatch loop over a snapshot of items.
// Items enqueued after the run starts are excluded from its accounting.
type Run struct {
	ID        string
	Settings  core.BatchSettings
	ItemIDs   []string
	Retry     bool
	StartedAt time.Time

	done       chan struct{}
	ctx        context.Context
	mu         sync.Mutex
	finishedAt time.Time
	report     core.Counts
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its report.
func (r *Run) Wait() core.Counts {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Report returns the tallies so far and whether the run has finished.
func (r *Run) Report() (core.Counts, bool) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.report, true
	default:
		return core.Counts{}, false
	}
}

// FinishedAt returns the completion time, zero while the run is live.
func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

func (r *Run) finish(report core.Counts) {
	r.mu.Lock()
	r.report = report
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
	close(r.done)
}

// Dispatcher owns the per-item upload state machine. It is the only writer
// of item status and progress. A single run may be in flight at a time.
type Dispatcher struct {
	queue    *core.Queue
	registry *platform.Registry
	media    MediaSource
	limiter  *Limiter

	// itemTimeout bounds each (item, destination) upload call.
	itemTimeout time.Duration

	mu      sync.Mutex
	current *Run
	last    *Run
	cancel  context.CancelFunc
}

// New creates a dispatcher over the given queue and collaborators.
func New(queue *core.Queue, registry *platform.Registry, media MediaSource, limiter *Limiter, itemTimeout time.Duration) *Dispatcher {
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Minute
	}
	if limiter == nil {
		limiter = NewLimiter(nil)
	}
	return &Dispatcher{
		queue:       queue,
		registry:    registry,
		media:       media,
		limiter:     limiter,
		itemTimeout: itemTimeout,
	}
}

// DispatchAll starts a run over every currently pending item. Precondition
// failures (empty or unknown destination set, invalid privacy, run already
// in flight) are reported synchronously before any item transitions. The
// returned run completes in the background; use Wait or Done to observe it.
func (d *Dispatcher) DispatchAll(ctx context.Context, settings core.BatchSettings) (*Run, error) {
	return d.start(ctx, settings, false)
}

// RetryFailed starts a run restricted to items in a retryable terminal
// status. Destinations that already succeeded for an item are not
// re-uploaded.
func (d *Dispatcher) RetryFailed(ctx context.Context, settings core.BatchSettings) (*Run, error) {
	return d.start(ctx, settings, true)
}

func (d *Dispatcher) start(ctx context.Context, settings core.BatchSettings, retry bool) (*Run, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	dests, err := d.registry.Select(settings.Destinations)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		return nil, ErrDispatchInProgress
	}

	match := func(s core.ItemStatus) bool { return s == core.StatusPending }
	if retry {
		match = core.ItemStatus.Retryable
	}

	run := &Run{
		ID:        uuid.NewString(),
		Settings:  settings,
		ItemIDs:   d.queue.IDsWhere(match),
		Retry:     retry,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	if len(run.ItemIDs) == 0 {
		// Nothing to do: complete immediately, no network calls.
		run.finish(core.Counts{})
		d.last = run
		return run, nil
	}

	// The run outlives the caller: an HTTP request context ends when the
	// handler returns, but the loop keeps going. Cancel is the only way to
	// stop it early; the caller's values (trace ids etc.) are kept.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run.ctx = runCtx
	d.current = run
	d.cancel = cancel

	go d.loop(runCtx, run, dests)
	return run, nil
}

// Cancel requests cooperative cancellation of the in-flight run. The signal
// is honored between suspension points; it does not pre-empt a network call
// already underway beyond its context deadline.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.cancel()
	return true
}

// Current returns the in-flight run, if any.
func (d *Dispatcher) Current() (*Run, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.current != nil
}

// Last returns the most recently finished run, if any.
func (d *Dispatcher) Last() (*Run, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last != nil
}

// loop processes the run's snapshot sequentially, in enqueue order.
func (d *Dispatcher) loop(ctx context.Context, run *Run, dests []platform.Destination) {
	slog.Info("dispatch started",
		"run", run.ID,
		"items", len(run.ItemIDs),
		"destinations", run.Settings.Destinations,
		"retry", run.Retry,
	)

	for _, id := range run.ItemIDs {
		if ctx.Err() != nil {
			// Remaining items never left pending; they stay for the next run.
			break
		}
		d.processItem(ctx, run, id, dests)
	}

	report := d.tally(run)
	run.finish(report)

	d.mu.Lock()
	d.last = run
	d.current = nil
	if d.cancel != nil {
		// Release the run context even on normal completion.
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	slog.Info("dispatch finished",
		"run", run.ID,
		"succeeded", report.Succeeded,
		"partial", report.Partial,
		"failed", report.Failed,
		"pending", report.Pending,
		"cancelled", ctx.Err() != nil,
	)
}

func (d *Dispatcher) processItem(ctx context.Context, run *Run, id string, dests []platform.Destination) {
	var targets []string
	var err error
	if run.Retry {
		targets, err = d.queue.BeginRetry(id, run.Settings.Destinations)
	} else {
		err = d.queue.BeginUpload(id, run.Settings.Destinations)
		targets = run.Settings.Destinations
	}
	if err != nil {
		// The item was removed or changed state since the snapshot.
		slog.Warn("skipping item", "run", run.ID, "item", id, "error", err)
		return
	}

	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}

	for _, dest := range dests {
		if !want[dest.Name()] {
			continue
		}
		if ctx.Err() != nil {
			d.queue.SetOutcome(id, dest.Name(), core.Outcome{
				Status: core.DestFailed,
				Error:  "dispatch cancelled",
			})
			continue
		}
		d.uploadOne(ctx, run, id, dest)
	}

	status, _ := d.queue.FinishItem(id)
	slog.Info("item finished", "run", run.ID, "item", id, "status", status)
}

// uploadOne performs the single (item, destination) call: wait for a rate
// token, open the payload, upload under the per-item timeout, record the
// outcome.
func (d *Dispatcher) uploadOne(ctx context.Context, run *Run, id string, dest platform.Destination) {
	fail := func(err error) {
		d.queue.SetOutcome(id, dest.Name(), core.Outcome{
			Status: core.DestFailed,
			Error:  err.Error(),
		})
		slog.Warn("upload failed", "run", run.ID, "item", id, "destination", dest.Name(), "error", err)
	}

	if err := d.limiter.Wait(ctx, dest.Name()); err != nil {
		fail(fmt.Errorf("throttled: %w", err))
		return
	}

	it, ok := d.queue.Item(id)
	if !ok {
		return
	}

	media, size, err := d.media.OpenMedia(ctx, it.StorageKey)
	if err != nil {
		fail(fmt.Errorf("open media: %w", err))
		return
	}
	defer media.Close()

	callCtx, cancel := context.WithTimeout(ctx, d.itemTimeout)
	defer cancel()

	res, err := dest.Upload(callCtx, &platform.Request{
		Media:       media,
		Size:        size,
		MediaURL:    d.media.MediaURL(it.StorageKey),
		Title:       it.Title,
		Description: it.Description,
		Tags:        it.Tags,
		Niche:       run.Settings.Niche,
		Privacy:     run.Settings.Privacy,
	})
	if err != nil {
		fail(err)
		return
	}

	d.queue.SetOutcome(id, dest.Name(), core.Outcome{
		Status:   core.DestSucceeded,
		RemoteID: res.RemoteID,
		URL:      res.URL,
	})
}

// tally counts the final statuses of the run's snapshot. Items removed from
// the queue after finishing are not counted.
func (d *Dispatcher) tally(run *Run) core.Counts {
	var c core.Counts
	for _, id := range run.ItemIDs {
		if it, ok := d.queue.Item(id); ok {
			c.Add(it.Status)
		}
	}
	return c
}
