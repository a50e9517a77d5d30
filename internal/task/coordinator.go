package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hooksbot/client/internal/api"
	"github.com/hooksbot/client/internal/model"
	"github.com/hooksbot/client/internal/notify"
)

// Listener receives the coordinator's observable output. Callbacks fire
// outside the coordinator's lock, after the transition they describe, and
// must not block for long: they run the event pipeline.
type Listener struct {
	OnStateChange func(from, to model.JobState)
	OnProgress    func(progress float64, step string)
	OnResult      func(item model.ResultItem)

	// OnNotice carries one-shot user-visible messages: submission
	// failures, cancellation acknowledgements, grace-period expiry.
	OnNotice func(message string)
}

// Options tune the coordinator's timers.
type Options struct {
	// CancelGrace bounds the wait for a cancellation round trip; after it
	// the job resolves to idle regardless.
	CancelGrace time.Duration

	// DiagInterval is the period of the job-scoped diagnostic logger.
	// Zero disables it.
	DiagInterval time.Duration
}

// Submission is a job request: the input artifacts plus parameters.
type Submission struct {
	Script   api.Upload
	InputCSV api.Upload
	Videos   []api.Upload
	Params   model.Parameters
}

// Handle identifies a submitted job and can abort its transfer. The remote
// side is cancelled through Coordinator.Cancel, not the handle.
type Handle struct {
	ID     string
	cancel context.CancelFunc
}

// CancelTransfer aborts the local upload if it is still in flight.
// Synchronous and idempotent.
func (h *Handle) CancelTransfer() {
	h.cancel()
}

// EnvelopeSource is anything envelopes can be subscribed from; satisfied by
// *notify.Channel.
type EnvelopeSource interface {
	OnEnvelope(notify.Handler) (unsubscribe func())
}

// Coordinator drives the job lifecycle: it mints correlation ids, submits
// jobs, filters the shared notification channel down to the tracked job,
// aggregates streamed results, and reconciles local and remote
// cancellation. It is the single writer of observable job state.
type Coordinator struct {
	svc      api.JobService
	listener Listener
	validate *validator.Validate
	filter   *notify.Filter

	cancelGrace  time.Duration
	diagInterval time.Duration

	mu       sync.Mutex
	state    model.JobState
	taskID   string
	progress float64
	step     string
	errMsg   string
	agg      *ResultAggregator

	// gen increments whenever the tracked job changes; async callbacks
	// capture it and bail if the world moved on underneath them.
	gen int

	cancelTransfer context.CancelFunc
	ticker         *diagTicker
	graceTimer     *time.Timer
}

// New creates an idle coordinator on top of the given job service.
func New(svc api.JobService, listener Listener, opts Options) *Coordinator {
	c := &Coordinator{
		svc:          svc,
		listener:     listener,
		validate:     validator.New(),
		cancelGrace:  opts.CancelGrace,
		diagInterval: opts.DiagInterval,
		state:        model.StateIdle,
		agg:          NewResultAggregator(),
	}
	if c.cancelGrace <= 0 {
		c.cancelGrace = 10 * time.Second
	}
	c.filter = notify.NewFilter(notify.DomainHandlers{
		OnProgress: c.handleProgress,
		OnResult:   c.handleResult,
		OnComplete: c.handleComplete,
		OnError:    c.handleError,
	})
	return c
}

// Attach subscribes the coordinator to an envelope source and returns the
// unsubscribe function. The source outlives any single job; per-job scoping
// happens in the correlation filter, not here.
func (c *Coordinator) Attach(src EnvelopeSource) (detach func()) {
	return src.OnEnvelope(c.HandleEnvelope)
}

// HandleEnvelope feeds one envelope through the correlation filter.
// Envelopes are processed in delivery order on the caller's goroutine.
func (c *Coordinator) HandleEnvelope(env model.Envelope) {
	c.filter.Forward(env)
}

// Filter exposes the correlation filter, mainly for diagnostics.
func (c *Coordinator) Filter() *notify.Filter {
	return c.filter
}

// Snapshot returns a stable point-in-time view of the tracked job.
func (c *Coordinator) Snapshot() model.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Job{
		ID:           c.taskID,
		State:        c.state,
		Progress:     c.progress,
		CurrentStep:  c.step,
		Results:      c.agg.Snapshot(),
		BundleRef:    c.agg.Bundle(),
		ErrorMessage: c.errMsg,
	}
}

// Submit validates the request, mints a fresh correlation id, registers it
// with the filter and starts the transfer. It returns as soon as the
// transfer is in flight; acceptance or failure arrives via the listener.
// Submitting from a terminal state clears the previous job's results and
// error before the new id becomes active.
func (c *Coordinator) Submit(sub Submission) (*Handle, error) {
	if err := c.validate.Struct(&sub.Params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil, ErrJobInFlight
	}

	// Retire the previous job entirely before the new id exists.
	c.agg.Reset()
	c.progress = 0
	c.step = ""
	c.errMsg = ""

	id := newTaskID()
	c.taskID = id
	c.gen++
	gen := c.gen

	from := c.state
	c.state = model.StateSubmitting

	// Register the id before the transfer can resolve so a precociously
	// arriving notification is not lost to the race.
	c.filter.SetActive(id)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelTransfer = cancel
	c.startTickerLocked()
	c.mu.Unlock()

	c.emitStateChange(from, model.StateSubmitting)

	go c.runTransfer(ctx, gen, &api.SubmitRequest{
		TaskID:   id,
		Script:   sub.Script,
		InputCSV: sub.InputCSV,
		Videos:   sub.Videos,
		Params:   sub.Params,
	})

	return &Handle{ID: id, cancel: cancel}, nil
}

// runTransfer performs the submission transfer and applies its outcome,
// unless the job was superseded meanwhile.
func (c *Coordinator) runTransfer(ctx context.Context, gen int, req *api.SubmitRequest) {
	err := c.svc.SubmitJob(ctx, req)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	if err == nil {
		if c.state != model.StateSubmitting {
			// Cancelled while the acceptance was in flight; the
			// cancellation flow owns the resolution.
			c.mu.Unlock()
			return
		}
		c.state = model.StateProcessing
		c.mu.Unlock()
		c.emitStateChange(model.StateSubmitting, model.StateProcessing)
		return
	}

	if errors.Is(err, context.Canceled) {
		// Local user abort, not a network failure; the cancel flow has
		// already transitioned the state machine.
		log.Printf("[task] %s transfer aborted by user", req.TaskID)
		c.mu.Unlock()
		return
	}

	// Transfer failure or synchronous rejection: a submission error, no
	// processing event can ever exist for this id. Back to idle.
	var rej *api.RejectionError
	notice := "an error occurred while submitting the job"
	if errors.As(err, &rej) {
		notice = rej.Reason
	}
	log.Printf("[task] %s submission failed: %v", req.TaskID, err)

	from := c.state
	c.toIdleLocked()
	c.mu.Unlock()
	c.emitNotice(notice)
	c.emitStateChange(from, model.StateIdle)
}

// Cancel aborts the job through both paths: the local transfer is aborted
// immediately, and a best-effort remote cancellation is issued if a task id
// exists. The machine enters Cancelled and resolves to Idle when the round
// trip answers, the grace period elapses, or a late terminal envelope
// arrives, whichever comes first.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		return ErrNoActiveJob
	}

	if c.cancelTransfer != nil {
		c.cancelTransfer()
		c.cancelTransfer = nil
	}

	id := c.taskID
	gen := c.gen
	from := c.state
	c.state = model.StateCancelled
	c.stopTickerLocked()

	c.graceTimer = time.AfterFunc(c.cancelGrace, func() {
		c.resolveCancel(gen, "cancellation timed out, returning to idle")
	})
	c.mu.Unlock()

	c.emitStateChange(from, model.StateCancelled)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cancelGrace)
		defer cancel()

		msg, err := c.svc.CancelTask(ctx, id)
		if err != nil {
			// Best-effort: the user is informed, local state still
			// resolves to idle.
			log.Printf("[task] %s remote cancel failed: %v", id, err)
			c.resolveCancel(gen, "an error occurred while canceling the task")
			return
		}
		c.resolveCancel(gen, msg)
	}()

	return nil
}

// resolveCancel finishes a pending cancellation, once. Later calls for the
// same job find the state already resolved and do nothing.
func (c *Coordinator) resolveCancel(gen int, notice string) {
	c.mu.Lock()
	if c.gen != gen || c.state != model.StateCancelled {
		c.mu.Unlock()
		return
	}
	c.toIdleLocked()
	c.mu.Unlock()
	c.emitNotice(notice)
	c.emitStateChange(model.StateCancelled, model.StateIdle)
}

// Acknowledge dismisses a failed job and returns to idle.
func (c *Coordinator) Acknowledge() error {
	return c.Reset()
}

// Reset returns to idle from a terminal state, clearing the job's results
// and error and releasing the server-side scratch space. It refuses to
// abandon an in-flight job; cancel first.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return ErrJobInFlight
	}
	if c.state == model.StateIdle {
		c.mu.Unlock()
		return nil
	}

	id := c.taskID
	from := c.state
	c.agg.Reset()
	c.progress = 0
	c.step = ""
	c.errMsg = ""
	c.toIdleLocked()
	c.mu.Unlock()

	c.emitStateChange(from, model.StateIdle)

	if id != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := c.svc.DeleteTempFiles(ctx, id); err != nil {
				log.Printf("[task] %s temp file cleanup failed: %v", id, err)
			}
		}()
	}
	return nil
}

// Close tears down timers and aborts any in-flight transfer. The
// notification channel is not owned here and stays open.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelTransfer != nil {
		c.cancelTransfer()
		c.cancelTransfer = nil
	}
	c.stopTickerLocked()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

// Envelope handlers, invoked by the correlation filter. The filter already
// guarantees the task id matches the tracked job; what remains is state
// validity. Envelopes whose kind is invalid for the current state are
// ignored, never errors: notifications can legitimately trail a terminal
// transition by channel latency.

func (c *Coordinator) handleProgress(taskID string, progress float64, step string) {
	c.mu.Lock()
	if !c.state.Active() {
		state := c.state
		c.mu.Unlock()
		log.Printf("[task] %s ignoring progress envelope in state %s", taskID, state)
		return
	}
	// Last write wins, no monotonic clamping: the server owns the number.
	c.progress = progress
	c.step = step
	c.mu.Unlock()

	if c.listener.OnProgress != nil {
		c.listener.OnProgress(progress, step)
	}
}

func (c *Coordinator) handleResult(taskID string, item model.ResultItem) {
	c.mu.Lock()
	if !c.state.Active() {
		state := c.state
		c.mu.Unlock()
		log.Printf("[task] %s ignoring result envelope in state %s", taskID, state)
		return
	}
	c.agg.Append(item)
	c.mu.Unlock()

	if c.listener.OnResult != nil {
		c.listener.OnResult(item)
	}
}

func (c *Coordinator) handleComplete(taskID string, zipPath string) {
	c.mu.Lock()
	switch {
	case c.state.Active():
		if zipPath != "" {
			c.agg.SetBundle(zipPath)
		}
		from := c.state
		c.state = model.StateCompleted
		c.stopTickerLocked()
		c.mu.Unlock()
		c.emitStateChange(from, model.StateCompleted)

	case c.state == model.StateCancelled:
		// Completion raced the cancel request. The user's verdict
		// stands: resolve the pending cancellation, do not resurrect
		// the job as completed.
		gen := c.gen
		c.mu.Unlock()
		log.Printf("[task] %s completed after cancellation was requested", taskID)
		c.resolveCancel(gen, "job finished before cancellation took effect")

	default:
		state := c.state
		c.mu.Unlock()
		log.Printf("[task] %s ignoring completion envelope in state %s", taskID, state)
	}
}

func (c *Coordinator) handleError(taskID string, message string) {
	c.mu.Lock()
	switch {
	case c.state.Active():
		c.errMsg = message
		from := c.state
		c.state = model.StateFailed
		c.stopTickerLocked()
		c.mu.Unlock()
		c.emitStateChange(from, model.StateFailed)

	case c.state == model.StateCancelled:
		gen := c.gen
		c.mu.Unlock()
		c.resolveCancel(gen, "task canceled: "+message)

	default:
		state := c.state
		c.mu.Unlock()
		log.Printf("[task] %s ignoring error envelope in state %s", taskID, state)
	}
}

// toIdleLocked retires the tracked job. Results survive until the next
// submission or an explicit Reset; the filter slot is cleared so every
// further envelope for the old id is stale by definition.
func (c *Coordinator) toIdleLocked() {
	c.state = model.StateIdle
	c.taskID = ""
	c.gen++
	c.filter.Clear()
	c.stopTickerLocked()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.cancelTransfer != nil {
		c.cancelTransfer()
		c.cancelTransfer = nil
	}
}

func (c *Coordinator) startTickerLocked() {
	c.stopTickerLocked()
	if c.diagInterval > 0 {
		c.ticker = startDiagTicker(c.diagInterval, c.Snapshot)
	}
}

func (c *Coordinator) stopTickerLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Coordinator) emitStateChange(from, to model.JobState) {
	if from != to && c.listener.OnStateChange != nil {
		c.listener.OnStateChange(from, to)
	}
}

func (c *Coordinator) emitNotice(message string) {
	if c.listener.OnNotice != nil {
		c.listener.OnNotice(message)
	}
}

// newTaskID mints a correlation id. Client-generated, never reused; the
// uuid space makes collisions a non-concern.
func newTaskID() string {
	return "task-" + uuid.NewString()
}
