package runtime

import (
	"context"
	"runtime/debug"

	"github.com/LerianStudio/lib-eventbus/log"
)

// Logger is the minimal logging capability recovery helpers depend on. A nil
// Logger is always accepted and simply disables logging for that call.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// PanicPolicy controls what a recovery helper does after logging a panic.
type PanicPolicy int

const (
	// KeepRunning swallows the panic once it has been logged/reported.
	KeepRunning PanicPolicy = iota
	// CrashProcess re-panics with the original value after logging/reporting,
	// letting the process crash (or an outer recover handle it).
	CrashProcess
)

// logPanicWithStack logs a recovered panic with its stack trace. Safe to call
// with a nil logger or a nil/empty stack.
func logPanicWithStack(logger Logger, name string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	logger.Log(context.Background(), log.LevelError, "panic recovered",
		log.String("handler", name),
		log.String("panic_value", formatPanicValue(panicValue)),
		log.String("stack", string(stack)),
	)
}

// logPanic logs a recovered panic, capturing the current stack trace.
func logPanic(logger Logger, name string, panicValue any) {
	logPanicWithStack(logger, name, panicValue, debug.Stack())
}

// RecoverAndLog recovers a panic in the deferring goroutine and logs it. It
// does not report to tracing, metrics, or the external error reporter; use
// RecoverAndLogWithContext for that.
func RecoverAndLog(logger Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverAndLogWithContext recovers a panic, logs it, records it on the
// active span, increments the panic_recovered_total metric, and forwards it
// to the configured external error reporter. The panic is swallowed.
func RecoverAndLogWithContext(ctx context.Context, logger Logger, component, name string) {
	if r := recover(); r != nil {
		handleRecoveredPanic(ctx, logger, component, name, r)
	}
}

// RecoverAndCrash recovers a panic, logs it, then re-panics with the
// original value so the process (or an outer recover) observes it.
func RecoverAndCrash(logger Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		panic(r)
	}
}

// RecoverAndCrashWithContext is RecoverAndCrash plus span/metric/error-reporter
// observability, equivalent to RecoverAndLogWithContext followed by re-panic.
func RecoverAndCrashWithContext(ctx context.Context, logger Logger, component, name string) {
	if r := recover(); r != nil {
		handleRecoveredPanic(ctx, logger, component, name, r)
		panic(r)
	}
}

// RecoverWithPolicy recovers a panic, logs it, and then either swallows it
// (KeepRunning) or re-panics (CrashProcess) per policy.
func RecoverWithPolicy(logger Logger, name string, policy PanicPolicy) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)

		if policy == CrashProcess {
			panic(r)
		}
	}
}

// RecoverWithPolicyAndContext is RecoverWithPolicy plus span/metric/error-
// reporter observability.
func RecoverWithPolicyAndContext(ctx context.Context, logger Logger, component, name string, policy PanicPolicy) {
	if r := recover(); r != nil {
		handleRecoveredPanic(ctx, logger, component, name, r)

		if policy == CrashProcess {
			panic(r)
		}
	}
}

// HandlePanicValue reports an already-recovered panic value through the same
// logging, tracing, metrics, and error-reporter pipeline as the deferred
// recovery helpers, for callers that perform their own recover(). A nil
// panicValue is treated as "nothing happened" and is a no-op.
func HandlePanicValue(ctx context.Context, logger Logger, panicValue any, goroutineName, component string) {
	if panicValue == nil {
		return
	}

	handleRecoveredPanic(ctx, logger, component, goroutineName, panicValue)
}

func handleRecoveredPanic(ctx context.Context, logger Logger, component, name string, panicValue any) {
	stack := debug.Stack()

	logPanicWithStack(logger, name, panicValue, stack)
	RecordPanicToSpanWithComponent(ctx, panicValue, stack, component, name)
	recordPanicMetric(ctx, component, name)
	reportPanicToErrorService(ctx, panicValue, stack, component, name)
}

// SafeGo launches fn in a new goroutine, recovering and handling any panic
// per policy so a single failing worker cannot take down the process.
func SafeGo(logger Logger, name string, policy PanicPolicy, fn func()) {
	go func() {
		defer RecoverWithPolicy(logger, name, policy)

		fn()
	}()
}

// SafeGoWithContextAndComponent is SafeGo with context-aware observability
// (span events, metrics, external error reporting) attributed to component.
func SafeGoWithContextAndComponent(ctx context.Context, logger Logger, component, name string, policy PanicPolicy, fn func(context.Context)) {
	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}
