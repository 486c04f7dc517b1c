package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes every event to the log. Events where money moved
// without a confirmed order are logged at error level.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	entry := n.Logger.Info()
	if MoneyMoved(ev.Topic) {
		entry = n.Logger.Error()
	}
	entry.
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("domain_event")
	return nil
}
