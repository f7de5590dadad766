package cortex

import (
	"errors"

	"pkt.systems/cortex/core"
)

// eventFanout delivers each event to every sink. Errors are joined; one
// failing sink does not starve the others.
type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) Emit(topic string, payload any) error {
	var errs []error
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Emit(topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
