package xipc

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnBusEvent(e BusEvent) { f(e) }

// LoggingObserver is an Adapter that emits BusEvents via xlog. Failures log
// at warn, everything else at debug.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnBusEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	lg := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("group", e.Group),
		xlog.Str("message_id", e.MessageID),
		xlog.Str("event", e.EventName),
		xlog.Str("sender", e.Sender),
	)
	if e.Err != nil || e.Type == EventError || e.Type == EventNack {
		lg.Warn().Err(e.Err).Msg("xipc bus event")
		return
	}
	if e.Duration > 0 {
		lg = lg.With(xlog.Dur("duration", e.Duration))
	}
	lg.Debug().Msg("xipc bus event")
}

// dispatchSafe calls o and swallows its panic so one observer cannot break
// delivery for the rest.
func dispatchSafe(o Observer, e BusEvent) {
	if o == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnBusEvent(e)
}
