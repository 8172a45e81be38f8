package pubsub_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harborops/go-session-kit/internal/pubsub"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	var hub pubsub.Hub[int]

	var a, b []int
	cancelA := hub.Subscribe(func(v int) { a = append(a, v) })
	defer cancelA()
	cancelB := hub.Subscribe(func(v int) { b = append(b, v) })
	defer cancelB()

	hub.Publish(1)
	hub.Publish(2)

	require.Equal(t, []int{1, 2}, a)
	require.Equal(t, []int{1, 2}, b)
	require.Equal(t, 2, hub.Len())
}

func TestCancelRevokesSubscription(t *testing.T) {
	var hub pubsub.Hub[string]

	var got []string
	cancel := hub.Subscribe(func(v string) { got = append(got, v) })

	hub.Publish("before")
	cancel()
	cancel() // idempotent
	hub.Publish("after")

	require.Equal(t, []string{"before"}, got)
	require.Equal(t, 0, hub.Len())
}

func TestPublishWithNoSubscribers(t *testing.T) {
	var hub pubsub.Hub[struct{}]
	hub.Publish(struct{}{}) // must not panic
}
