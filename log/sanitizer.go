package log

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	productionModeMu       sync.RWMutex
	productionModeResolver = func() bool {
		return strings.EqualFold(strings.TrimSpace(os.Getenv("ENV_NAME")), "production")
	}
)

// SetProductionModeResolver replaces how SafeErrorf decides whether to
// sanitize error detail. A nil resolver is ignored.
func SetProductionModeResolver(resolver func() bool) {
	if resolver == nil {
		return
	}

	productionModeMu.Lock()
	productionModeResolver = resolver
	productionModeMu.Unlock()
}

func isProductionMode() bool {
	productionModeMu.RLock()
	defer productionModeMu.RUnlock()

	return productionModeResolver()
}

// SafeErrorf logs err through a chainable logger, hiding the error detail in
// production: only the error's Go type is recorded there, never its message.
func SafeErrorf(logger ChainLogger, format string, err error) {
	if logger == nil || err == nil {
		return
	}

	if isProductionMode() {
		logger.Errorf("%s: error_type=%T", format, err)

		return
	}

	logger.Errorf("%s: %v", format, err)
}

// SafeError logs errors with explicit production-aware sanitization.
// When production is true, only the error type is logged.
func SafeError(logger Logger, ctx context.Context, msg string, err error, production bool) {
	if logger == nil {
		return
	}

	if err == nil {
		return
	}

	if !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, String("error_type", fmt.Sprintf("%T", err)))
		return
	}

	logger.Log(ctx, LevelError, msg, Err(err))
}

// SanitizeExternalResponse removes potentially sensitive external response data.
// Returns only status code for error messages.
func SanitizeExternalResponse(statusCode int) string {
	return fmt.Sprintf("external system returned status %d", statusCode)
}
