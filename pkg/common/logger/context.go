package logger

// LoggerContext accumulates key/value pairs that are attached to a logger
// once the surrounding operation knows enough about itself.
type LoggerContext struct {
	base *Logger
	kv   []any
}

// NewLoggerContext returns a LoggerContext rooted at base.
func NewLoggerContext(base *Logger) *LoggerContext {
	return &LoggerContext{base: base}
}

// Add appends key/value pairs and returns a logger carrying everything
// added so far.
func (lc *LoggerContext) Add(kv ...any) *Logger {
	lc.kv = append(lc.kv, kv...)
	return lc.base.With(lc.kv...)
}

// Logger returns a logger carrying every key/value pair added so far.
func (lc *LoggerContext) Logger() *Logger {
	if len(lc.kv) == 0 {
		return lc.base
	}
	return lc.base.With(lc.kv...)
}
