package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-checkout/internal/events"
)

type stubStore struct {
	inserted []events.Event
	err      error
}

func (s *stubStore) InsertEvent(_ context.Context, ev events.Event) (events.Event, error) {
	if s.err != nil {
		return events.Event{}, s.err
	}
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
		Now:       func() time.Time { return now },
	}

	ev, err := bus.Emit(context.Background(), events.TopicCheckoutCompleted, "chk-1", map[string]any{"orderId": "ord-1"})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	require.Equal(t, events.TopicCheckoutCompleted, store.inserted[0].Topic)
	require.Equal(t, "chk-1", store.inserted[0].AggregateID)
	require.Equal(t, now, ev.OccurredAt)
	require.JSONEq(t, `{"orderId":"ord-1"}`, string(ev.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, ev.ID, notifier.events[0].ID)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", "chk-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicPaymentFailed, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicPaymentFailed, "chk-1", "{not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicPaymentFailed, "chk-1", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{&captureNotifier{err: errors.New("queue down")}, &captureNotifier{}},
	}
	ev, err := bus.Emit(context.Background(), events.TopicCheckoutCommitFailed, "chk-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue down")
	require.Len(t, store.inserted, 1)
	require.JSONEq(t, `{}`, string(ev.Payload))
}

func TestEmitStoreFailure(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{err: errors.New("db down")}, Notifiers: []events.Notifier{notifier}}
	_, err := bus.Emit(context.Background(), events.TopicCheckoutCompleted, "chk-1", nil)
	require.Error(t, err)
	require.Empty(t, notifier.events)
}

func TestLogNotifierLevels(t *testing.T) {
	var buf bytes.Buffer
	n := events.LogNotifier{Logger: zerolog.New(&buf)}
	require.NoError(t, n.Notify(context.Background(), events.Event{Topic: events.TopicPaymentLateApproval, AggregateID: "chk-1", Payload: []byte(`{"gatewayRef":"trx-1"}`)}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "payment.late_approval", line["topic"])

	buf.Reset()
	require.NoError(t, n.Notify(context.Background(), events.Event{Topic: events.TopicCheckoutCompleted, AggregateID: "chk-1", Payload: []byte(`{}`)}))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "info", line["level"])
}
