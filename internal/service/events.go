package service

import (
	"context"

	"github.com/sentra-io/devicetrust/internal/models"
	"github.com/sentra-io/devicetrust/internal/repository"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// EventSink receives a copy of every security event for out-of-band
// analytics. Publish must never block the decision path.
type EventSink interface {
	Publish(evt models.SecurityEvent)
}

// eventLog fans one security event out to the store and the optional sink.
// Store writes run on a detached context: events are facts and survive the
// caller aborting mid-evaluation.
type eventLog struct {
	store repository.Store
	sink  EventSink
}

func newEventLog(store repository.Store, sink EventSink) *eventLog {
	return &eventLog{store: store, sink: sink}
}

func (l *eventLog) Record(ctx context.Context, evt *models.SecurityEvent) {
	if err := l.store.InsertEvent(context.WithoutCancel(ctx), evt); err != nil {
		logger.Warn("failed to record security event %s for %s: %v", evt.EventType, evt.FingerprintID, err)
	}
	if l.sink != nil {
		l.sink.Publish(*evt)
	}
}
