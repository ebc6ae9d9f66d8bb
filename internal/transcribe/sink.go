package transcribe

import (
	"fmt"
	"log"
)

// ProgressSink receives human-readable milestone events during a run.
// Events are delivered synchronously and in order, so implementations
// should return quickly.
type ProgressSink interface {
	Event(message string)
}

// ProgressFunc adapts a plain function to a ProgressSink.
type ProgressFunc func(message string)

func (f ProgressFunc) Event(message string) {
	f(message)
}

// emit formats and delivers one event. A nil sink is allowed, and a
// panicking sink is contained so an observer cannot fail the run.
func emit(sink ProgressSink, format string, args ...any) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[transcribe] progress sink panicked: %v", r)
		}
	}()
	sink.Event(fmt.Sprintf(format, args...))
}
