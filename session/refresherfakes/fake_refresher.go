// Package refresherfakes provides a hand-written Refresher fake for tests.
package refresherfakes

import (
	"context"
	"sync"

	"github.com/harborops/go-session-kit/session"
)

// FakeRefresher counts refresh calls and returns a scripted result. The
// optional Block channel lets tests hold a refresh open to exercise the
// collapsing single-flight behaviour.
type FakeRefresher struct {
	mu    sync.Mutex
	calls int

	Session session.Session
	Err     error
	Block   chan struct{} // when non-nil, Refresh waits until it closes
}

// NewFakeRefresher returns a fake that resolves to the given session.
func NewFakeRefresher(sess session.Session) *FakeRefresher {
	return &FakeRefresher{Session: sess}
}

// Refresh implements session.Refresher.
func (f *FakeRefresher) Refresh(ctx context.Context, _ session.Session) (session.Session, error) {
	f.mu.Lock()
	f.calls++
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return session.Session{}, f.Err
	}
	return f.Session, nil
}

// Calls returns how many times Refresh was invoked.
func (f *FakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
