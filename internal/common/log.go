package common

// Logger is the subset of *zap.SugaredLogger the engine depends on. Every
// component takes one of these instead of importing zap directly, so tests
// can hand in a no-op or an observed logger.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Sync() error
}
