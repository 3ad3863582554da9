package log

// NoneLogger discards every chainable log call.
type NoneLogger struct{}

// Info does nothing.
func (l *NoneLogger) Info(...any) {}

// Infof does nothing.
func (l *NoneLogger) Infof(string, ...any) {}

// Infoln does nothing.
func (l *NoneLogger) Infoln(...any) {}

// Error does nothing.
func (l *NoneLogger) Error(...any) {}

// Errorf does nothing.
func (l *NoneLogger) Errorf(string, ...any) {}

// Errorln does nothing.
func (l *NoneLogger) Errorln(...any) {}

// Warn does nothing.
func (l *NoneLogger) Warn(...any) {}

// Warnf does nothing.
func (l *NoneLogger) Warnf(string, ...any) {}

// Warnln does nothing.
func (l *NoneLogger) Warnln(...any) {}

// Debug does nothing.
func (l *NoneLogger) Debug(...any) {}

// Debugf does nothing.
func (l *NoneLogger) Debugf(string, ...any) {}

// Debugln does nothing.
func (l *NoneLogger) Debugln(...any) {}

// Fatal does nothing; it never exits.
func (l *NoneLogger) Fatal(...any) {}

// Fatalf does nothing; it never exits.
func (l *NoneLogger) Fatalf(string, ...any) {}

// Fatalln does nothing; it never exits.
func (l *NoneLogger) Fatalln(...any) {}

// WithFields returns the same logger.
//
//nolint:ireturn
func (l *NoneLogger) WithFields(...any) ChainLogger { return l }

// WithDefaultMessageTemplate returns the same logger.
//
//nolint:ireturn
func (l *NoneLogger) WithDefaultMessageTemplate(string) ChainLogger { return l }

// Sync does nothing.
func (l *NoneLogger) Sync() error { return nil }

var _ ChainLogger = (*NoneLogger)(nil)
