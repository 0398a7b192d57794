// Package axlog defines the logging surface every component of the server writes to.
package axlog

type Logger interface {
	Info(s string, keyValues ...any)
	Error(s string, keyValues ...any)
	Debug(s string, keyValues ...any)
	Warn(s string, keyValues ...any)
}

// Nop discards everything. Constructors fall back to it when given a nil logger.
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Error(string, ...any) {}
func (Nop) Debug(string, ...any) {}
func (Nop) Warn(string, ...any)  {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

type withLogger struct {
	parent Logger
	kv     []any
}

// With returns a logger that prepends keyValues to every entry.
func With(l Logger, keyValues ...any) Logger {
	l = OrNop(l)
	if len(keyValues) == 0 {
		return l
	}
	if w, ok := l.(*withLogger); ok {
		return &withLogger{parent: w.parent, kv: append(append([]any{}, w.kv...), keyValues...)}
	}
	return &withLogger{parent: l, kv: keyValues}
}

func (w *withLogger) join(keyValues []any) []any {
	out := make([]any, 0, len(w.kv)+len(keyValues))
	out = append(out, w.kv...)
	return append(out, keyValues...)
}

func (w *withLogger) Info(s string, keyValues ...any)  { w.parent.Info(s, w.join(keyValues)...) }
func (w *withLogger) Error(s string, keyValues ...any) { w.parent.Error(s, w.join(keyValues)...) }
func (w *withLogger) Debug(s string, keyValues ...any) { w.parent.Debug(s, w.join(keyValues)...) }
func (w *withLogger) Warn(s string, keyValues ...any)  { w.parent.Warn(s, w.join(keyValues)...) }
