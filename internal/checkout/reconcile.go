package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/events"
)

// TaskReconcileCommit re-posts the order of a paid session whose commit failed.
const TaskReconcileCommit = "checkout:reconcile_commit"

type reconcilePayload struct {
	SessionID string `json:"sessionId"`
}

// NewReconcileTask builds the reconciliation task of one session.
func NewReconcileTask(sessionID string) (*asynq.Task, error) {
	if sessionID == "" {
		return nil, errors.New("reconcile: session id is required")
	}
	payload, err := json.Marshal(reconcilePayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileCommit, payload), nil
}

// TaskEnqueuer is the part of asynq.Client the enqueuer needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ReconcileEnqueuer turns commit_failed events into reconciliation tasks.
// The task id pairs the session with the event, so a redelivered event is
// enqueued once while every later commit failure gets a task of its own.
type ReconcileEnqueuer struct {
	Client    TaskEnqueuer
	Queue     string
	Delay     time.Duration
	MaxRetry  int
	Retention time.Duration
	Logger    zerolog.Logger
}

// Notify implements events.Notifier.
func (e ReconcileEnqueuer) Notify(ctx context.Context, ev events.Event) error {
	if ev.Topic != events.TopicCheckoutCommitFailed || e.Client == nil {
		return nil
	}
	task, err := NewReconcileTask(ev.AggregateID)
	if err != nil {
		return err
	}
	taskID := reconcileTaskID(ev)
	opts := []asynq.Option{asynq.TaskID(taskID)}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(e.Delay))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Retention > 0 {
		opts = append(opts, asynq.Retention(e.Retention))
	}
	_, err = e.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.Logger.Warn().Err(err).Str("session_id", ev.AggregateID).Str("task_id", taskID).
			Msg("commit reconciliation already scheduled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue reconcile %s: %w", ev.AggregateID, err)
	}
	e.Logger.Info().Str("session_id", ev.AggregateID).Str("task_id", taskID).Msg("commit reconciliation scheduled")
	return nil
}

func reconcileTaskID(ev events.Event) string {
	if ev.ID == uuid.Nil {
		return "reconcile:" + ev.AggregateID
	}
	return "reconcile:" + ev.AggregateID + ":" + ev.ID.String()
}

// ReconcileHandler processes reconciliation tasks. It only ever calls
// RetryCommit, so payment is never triggered again.
type ReconcileHandler struct {
	Orchestrator *Orchestrator
	Logger       zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p reconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.SessionID == "" {
		return fmt.Errorf("reconcile: bad payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("session_id", p.SessionID).Logger()

	s, err := h.Orchestrator.RetryCommit(ctx, p.SessionID)
	var commitErr *CommitError
	switch {
	case err == nil:
		log.Info().Str("order_id", s.OrderID).Msg("commit reconciled")
		return nil
	case errors.As(err, &commitErr):
		log.Warn().Err(err).Str("gateway_ref", commitErr.GatewayRef).Msg("commit reconciliation failed")
		return err
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrSessionNotFound):
		log.Warn().Err(err).Msg("commit reconciliation not applicable")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
