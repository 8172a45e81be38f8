package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborops/go-session-kit/internal/pubsub"
)

// Toast is an ephemeral, locally generated alert. Toasts are a distinct
// stream from persisted notifications: they never reach the backend store
// and their ids are generated locally, independent of backend ids.
type Toast struct {
	ID       string
	Title    string
	Message  string
	Kind     Kind
	Duration time.Duration
}

// ToastEvent is delivered to toast subscribers: once when the toast is
// shown and once when its duration elapses.
type ToastEvent struct {
	Toast     Toast
	Dismissed bool
}

const (
	defaultToastDuration = 5 * time.Second
	errorToastDuration   = 8 * time.Second
	// Alerts that require operator action stay up longer.
	actionToastDuration = 12 * time.Second
)

func toastDuration(kind Kind) time.Duration {
	switch kind {
	case KindError:
		return errorToastDuration
	case KindDepartureDelayed, KindCapacityAlert:
		return actionToastDuration
	default:
		return defaultToastDuration
	}
}

type toastHub struct {
	events pubsub.Hub[ToastEvent]
}

// SubscribeToasts registers a callback for toast show/dismiss events. The
// returned cancel function revokes the subscription.
func (c *Center) SubscribeToasts(fn func(ToastEvent)) func() {
	return c.toasts.events.Subscribe(fn)
}

// PushToast raises a transient alert with a kind-specific auto-dismiss
// duration. The dismissal event fires after the duration elapses.
func (c *Center) PushToast(title, message string, kind Kind) Toast {
	t := Toast{
		ID:       uuid.New().String(),
		Title:    title,
		Message:  message,
		Kind:     kind,
		Duration: toastDuration(kind),
	}

	c.toasts.events.Publish(ToastEvent{Toast: t})
	time.AfterFunc(t.Duration, func() {
		c.toasts.events.Publish(ToastEvent{Toast: t, Dismissed: true})
	})
	return t
}
