package monitor

import "time"

// WithTiming wraps fn so that every call is timed and the elapsed
// duration, in milliseconds, is recorded against name+"_time". This is
// the logging-injection decorator for a single call site, letting an
// operation be timed without having to know about the Recorder.
// cookiejar.Timed applies the same timing shape across the whole jar
// interface with its own helper rather than calling WithTiming.
func WithTiming(recorder *Recorder, name string, fn func() error) func() error {
	return func() error {
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)

		metadata := map[string]any{}
		if err != nil {
			metadata["error"] = err.Error()
		}
		recorder.Record(name+"_time", float64(elapsed.Microseconds())/1000.0, metadata)

		return err
	}
}

// WithTimingVoid is WithTiming for operations that do not return an error.
func WithTimingVoid(recorder *Recorder, name string, fn func()) func() {
	return func() {
		start := time.Now()
		fn()
		elapsed := time.Since(start)
		recorder.Record(name+"_time", float64(elapsed.Microseconds())/1000.0, nil)
	}
}
