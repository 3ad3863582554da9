package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	libCommons "github.com/LerianStudio/lib-eventbus"
	"github.com/LerianStudio/lib-eventbus/backoff"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	libOpentelemetry "github.com/LerianStudio/lib-eventbus/opentelemetry"
	"github.com/LerianStudio/lib-eventbus/runtime"
)

// Dispatcher is a reference republisher: it polls the outbox store for
// NotPublished and PublishedFailed entries, runs them through the handler
// registry, and persists the resulting state transition. It is illustrative
// scheduling, not a mandatory contract — any component driving the same
// repository and handler registry on its own schedule is equally valid.
type Dispatcher struct {
	repo            OutboxRepository
	handlers        *HandlerRegistry
	retryClassifier RetryClassifier
	logger          libLog.Logger
	tracer          trace.Tracer
	cfg             DispatcherConfig

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	dispatchWg sync.WaitGroup

	metrics dispatcherMetrics
}

var _ libCommons.App = (*Dispatcher)(nil)

// DispatchResult captures one dispatch cycle outcome.
type DispatchResult struct {
	Processed         int
	Published         int
	Failed            int
	StateUpdateFailed int
}

// NewDispatcher creates a dispatcher over repo, dispatching to handlers.
func NewDispatcher(
	repo OutboxRepository,
	handlers *HandlerRegistry,
	logger libLog.Logger,
	tracer trace.Tracer,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if nilcheck.Interface(repo) {
		return nil, ErrOutboxRepositoryRequired
	}

	if handlers == nil {
		return nil, ErrHandlerRegistryRequired
	}

	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("eventbus.noop")
	}

	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	dispatcher := &Dispatcher{
		repo:     repo,
		handlers: handlers,
		logger:   logger,
		tracer:   tracer,
		cfg:      DefaultDispatcherConfig(),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	dispatcher.cfg.normalize()

	metrics, err := newDispatcherMetrics(dispatcher.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	dispatcher.metrics = metrics

	return dispatcher, nil
}

// Run starts the dispatcher loop until Stop is called.
func (dispatcher *Dispatcher) Run(launcher *libCommons.Launcher) error {
	return dispatcher.RunContext(context.Background(), launcher)
}

// RunContext starts the dispatcher loop until Stop is called or ctx is cancelled.
func (dispatcher *Dispatcher) RunContext(parentCtx context.Context, launcher *libCommons.Launcher) error {
	if dispatcher == nil {
		return ErrOutboxDispatcherRequired
	}

	if dispatcher.repo == nil || dispatcher.handlers == nil {
		return ErrOutboxDispatcherRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !dispatcher.registerRun(cancel) {
		cancel()

		return ErrOutboxDispatcherRunning
	}

	defer dispatcher.clearRun()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), libLog.LevelInfo, "outbox dispatcher started")
		defer launcher.Logger.Log(context.Background(), libLog.LevelInfo, "outbox dispatcher stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, dispatcher.logger, "outbox", "dispatcher_run")

	ticker := time.NewTicker(dispatcher.cfg.DispatchInterval)
	defer ticker.Stop()

	dispatcher.runCycle(ctx, "outbox.dispatcher.initial_dispatch")

	for {
		select {
		case <-dispatcher.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-dispatcher.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			dispatcher.runCycle(ctx, "outbox.dispatcher.dispatch_once")
		}
	}
}

func (dispatcher *Dispatcher) runCycle(ctx context.Context, spanName string) {
	dispatcher.dispatchWg.Add(1)
	defer dispatcher.dispatchWg.Done()

	cycleCtx, span := dispatcher.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLogWithContext(cycleCtx, dispatcher.logger, "outbox", "dispatcher_cycle")

	dispatcher.DispatchOnceResult(cycleCtx)
}

// Stop signals the dispatcher loop to stop.
func (dispatcher *Dispatcher) Stop() {
	if dispatcher == nil {
		return
	}

	dispatcher.stopOnce.Do(func() {
		dispatcher.runStateMu.Lock()
		cancel := dispatcher.cancelFunc
		stop := dispatcher.stop
		if stop == nil {
			stop = make(chan struct{})
			dispatcher.stop = stop
		}
		dispatcher.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(stop)
	})
}

// Shutdown waits for in-flight dispatch cycle completion.
func (dispatcher *Dispatcher) Shutdown(ctx context.Context) error {
	if dispatcher == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	dispatcher.Stop()

	done := make(chan struct{})

	runtime.SafeGo(dispatcher.logger, "outbox.dispatcher_shutdown_wait", runtime.KeepRunning, func() {
		dispatcher.dispatchWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// DispatchOnce processes one dispatch cycle and returns the number processed.
func (dispatcher *Dispatcher) DispatchOnce(ctx context.Context) int {
	return dispatcher.DispatchOnceResult(ctx).Processed
}

// DispatchOnceResult processes one dispatch cycle and returns counters.
func (dispatcher *Dispatcher) DispatchOnceResult(ctx context.Context) DispatchResult {
	if dispatcher == nil || dispatcher.repo == nil || dispatcher.handlers == nil {
		return DispatchResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger := dispatcher.logger
	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	tracer := dispatcher.tracer
	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("eventbus.noop")
	}

	start := time.Now().UTC()

	ctx, span := tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	entries := dispatcher.collectEntries(ctx, span)
	dispatcher.metrics.recordQueueDepth(ctx, int64(len(entries)))

	result := DispatchResult{}

	// Delivery is at-least-once: publish happens before MarkPublished. If
	// state persistence fails after a successful publish, the entry stays
	// InProgress and is eligible for the stuck-entry reaper; consumers must
	// remain idempotent regardless.
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		if entry == nil {
			continue
		}

		if entry.TimesSent >= dispatcher.cfg.MaxDispatchAttempts {
			logger.Log(ctx, libLog.LevelWarn, "outbox entry exceeded max dispatch attempts, leaving for operator",
				libLog.String("event_id", entry.EventID.String()),
				libLog.Int("times_sent", entry.TimesSent))

			continue
		}

		result.Processed++

		if err := dispatcher.repo.MarkInProgress(ctx, entry.EventID); err != nil {
			logger.Log(ctx, libLog.LevelError, "failed to mark outbox entry in progress",
				libLog.String("event_id", entry.EventID.String()),
				libLog.String("error", sanitizeErrorForStorage(err)))

			continue
		}

		if err := dispatcher.publishEntryWithRetry(ctx, entry); err != nil {
			dispatcher.handlePublishError(ctx, logger, entry, err)

			result.Failed++

			continue
		}

		result.Published++

		if err := dispatcher.repo.MarkPublished(ctx, entry.EventID); err != nil {
			logger.Log(ctx, libLog.LevelError,
				"outbox entry published to broker but failed to persist Published state; entry may be retried",
				libLog.String("event_id", entry.EventID.String()),
				libLog.String("error", sanitizeErrorForStorage(err)))

			result.StateUpdateFailed++
		}
	}

	dispatcher.metrics.addDispatched(ctx, int64(result.Published))
	dispatcher.metrics.addFailed(ctx, int64(result.Failed))
	dispatcher.metrics.addStateUpdateFailed(ctx, int64(result.StateUpdateFailed))
	dispatcher.metrics.recordLatency(ctx, time.Since(start).Seconds())

	return result
}

// collectEntries gathers entries for a single dispatch cycle: first reclaims
// entries stuck InProgress past ProcessingTimeout, then fills the remaining
// batch budget with NotPublished and PublishedFailed entries.
func (dispatcher *Dispatcher) collectEntries(ctx context.Context, span trace.Span) []*OutboxEntry {
	logger := dispatcher.logger
	processingBefore := time.Now().UTC().Add(-dispatcher.cfg.ProcessingTimeout)

	stuck, err := dispatcher.repo.ResetStuckInProgress(ctx, dispatcher.cfg.BatchSize, processingBefore)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to reset stuck outbox entries", err)
		libLog.SafeError(logger, ctx, "failed to reset stuck outbox entries", err, false)
	}

	remaining := dispatcher.cfg.BatchSize - len(stuck)
	if remaining <= 0 {
		return deduplicateEntries(stuck)
	}

	failed, err := dispatcher.repo.RetrieveFailed(ctx, remaining)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to retrieve failed outbox entries", err)
		libLog.SafeError(logger, ctx, "failed to retrieve failed outbox entries", err, false)
	}

	remaining -= len(failed)
	if remaining <= 0 {
		return deduplicateEntries(append(stuck, failed...))
	}

	pending, err := dispatcher.repo.RetrievePending(ctx, remaining)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to retrieve pending outbox entries", err)
		libLog.SafeError(logger, ctx, "failed to retrieve pending outbox entries", err, false)
	}

	all := make([]*OutboxEntry, 0, len(stuck)+len(failed)+len(pending))
	all = append(all, stuck...)
	all = append(all, failed...)
	all = append(all, pending...)

	return deduplicateEntries(all)
}

func deduplicateEntries(entries []*OutboxEntry) []*OutboxEntry {
	if len(entries) == 0 {
		return entries
	}

	seen := make(map[uuid.UUID]bool, len(entries))
	result := make([]*OutboxEntry, 0, len(entries))

	for _, entry := range entries {
		if entry == nil || seen[entry.EventID] {
			continue
		}

		seen[entry.EventID] = true
		result = append(result, entry)
	}

	return result
}

func (dispatcher *Dispatcher) registerRun(cancel context.CancelFunc) bool {
	dispatcher.runStateMu.Lock()
	defer dispatcher.runStateMu.Unlock()

	if dispatcher.running {
		return false
	}

	if dispatcher.stop == nil || isClosedSignal(dispatcher.stop) {
		dispatcher.stop = make(chan struct{})
		dispatcher.stopOnce = sync.Once{}
	}

	dispatcher.running = true
	dispatcher.cancelFunc = cancel

	return true
}

func (dispatcher *Dispatcher) clearRun() {
	dispatcher.runStateMu.Lock()
	defer dispatcher.runStateMu.Unlock()

	dispatcher.running = false
	dispatcher.cancelFunc = nil
}

func isClosedSignal(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}

	select {
	case <-signal:
		return true
	default:
		return false
	}
}

// publishEntryWithRetry retries within a single dispatch cycle using jittered
// backoff; this is distinct from the bus's per-publish retry pipeline, which
// is deliberately jitter-free (see backoff.Exponential / WaitContext).
func (dispatcher *Dispatcher) publishEntryWithRetry(ctx context.Context, entry *OutboxEntry) error {
	maxAttempts := dispatcher.cfg.PublishMaxAttempts
	publishBackoff := dispatcher.cfg.PublishBackoff

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := dispatcher.publishEntry(ctx, entry)
		if err == nil {
			return nil
		}

		lastErr = fmt.Errorf("publish attempt %d/%d failed: %w", attempt+1, maxAttempts, err)
		if dispatcher.isNonRetryableError(err) || attempt == maxAttempts-1 {
			break
		}

		delay := backoff.ExponentialWithJitter(publishBackoff, attempt)
		if waitErr := backoff.WaitContext(ctx, delay); waitErr != nil {
			lastErr = fmt.Errorf("publish retry wait interrupted: %w", waitErr)
			break
		}
	}

	return lastErr
}

func (dispatcher *Dispatcher) publishEntry(ctx context.Context, entry *OutboxEntry) error {
	if entry == nil {
		return ErrOutboxEventRequired
	}

	if len(entry.Content) == 0 {
		return ErrOutboxEventPayloadRequired
	}

	return dispatcher.handlers.Handle(ctx, entry)
}

func (dispatcher *Dispatcher) handlePublishError(
	ctx context.Context,
	logger libLog.Logger,
	entry *OutboxEntry,
	err error,
) {
	if markErr := dispatcher.repo.MarkFailed(ctx, entry.EventID, sanitizeErrorForStorage(err)); markErr != nil {
		logger.Log(ctx, libLog.LevelError, "failed to mark outbox entry failed",
			libLog.String("error", sanitizeErrorForStorage(markErr)))
	}
}

func (dispatcher *Dispatcher) isNonRetryableError(err error) bool {
	if err == nil || nilcheck.Interface(dispatcher.retryClassifier) {
		return false
	}

	return dispatcher.retryClassifier.IsNonRetryable(err)
}
