// Package notifications maintains the user's notification collection,
// kept in sync with the backend store through optimistic local mutation,
// and bridges transient toast alerts to the UI.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/apiclient"
)

// Kind classifies a notification. Besides the four generic kinds the
// backend emits booking-domain subtypes.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"

	KindBookingCreated   Kind = "booking-created"
	KindBookingCancelled Kind = "booking-cancelled"
	KindDepartureDelayed Kind = "departure-delayed"
	KindCapacityAlert    Kind = "capacity-alert"
)

var knownKinds = map[Kind]bool{
	KindInfo:    true,
	KindSuccess: true,
	KindWarning: true,
	KindError:   true,

	KindBookingCreated:   true,
	KindBookingCancelled: true,
	KindDepartureDelayed: true,
	KindCapacityAlert:    true,
}

// Notification is one entry in the user's list. Display order is newest
// first; read state is independent of order.
type Notification struct {
	ID          string
	Title       string
	Message     string
	Kind        Kind
	BookingCode string
	CreatedAt   time.Time
	Read        bool
}

// wireNotification is the backend representation. Metadata is an opaque
// structured payload decoded defensively.
type wireNotification struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"createdAt"`
	Read      bool            `json:"read"`
	Metadata  json.RawMessage `json:"metadata"`
}

type wireMetadata struct {
	Kind        string `json:"kind"`
	BookingCode string `json:"bookingCode"`
}

// decode maps a wire item to the local model. A malformed or unknown
// metadata payload degrades the item to a generic info notification
// rather than dropping it.
func (w wireNotification) decode() Notification {
	n := Notification{
		ID:        w.ID,
		Title:     w.Title,
		Message:   w.Message,
		Kind:      KindInfo,
		CreatedAt: w.CreatedAt,
		Read:      w.Read,
	}

	if len(w.Metadata) == 0 {
		return n
	}
	var meta wireMetadata
	if err := json.Unmarshal(w.Metadata, &meta); err != nil {
		log.Debug().Str("id", w.ID).Err(err).Msg("undecodable notification metadata, degrading to info")
		return n
	}
	if knownKinds[Kind(meta.Kind)] {
		n.Kind = Kind(meta.Kind)
	}
	n.BookingCode = meta.BookingCode
	return n
}

const (
	notificationsPath = "/api/notifications"
	defaultPageSize   = 50
)

// Center holds the backend-synced notification state. All methods are
// safe for concurrent use. Mutations are optimistic: the local collection
// changes first, the backend call follows, and a sync failure sets a
// retained-state error flag instead of rolling back or clearing.
type Center struct {
	api *apiclient.Client

	mu         sync.Mutex
	items      []Notification
	unread     int
	syncErr    error
	generation uint64 // bumped on every local mutation; stale fetches check it

	toasts toastHub
}

// NewCenter creates a Center over the backend notification endpoints.
func NewCenter(api *apiclient.Client) *Center {
	return &Center{api: api}
}

// All returns the current list, newest first.
func (c *Center) All() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// UnreadCount returns the local unread counter.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// SyncErr returns the last sync failure, or nil while healthy. Rendered
// as a passive indicator, never a blocking error.
func (c *Center) SyncErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncErr
}

type listResponse struct {
	Items []wireNotification `json:"items"`
	Total int                `json:"total"`
}

// FetchAll pulls the first page from the backend and replaces local
// state. A fetch failure retains the last good state and sets the sync
// error flag. A response that arrives after a local mutation started
// later is stale and is discarded, so cleared items never resurrect.
func (c *Center) FetchAll(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	var resp listResponse
	path := fmt.Sprintf("%s?page=1&pageSize=%d", notificationsPath, defaultPageSize)
	if err := c.api.GetJSON(ctx, path, &resp); err != nil {
		c.setSyncErr(err)
		return errors.Wrap(err, "[Center.FetchAll]")
	}

	items := make([]Notification, 0, len(resp.Items))
	unread := 0
	for _, w := range resp.Items {
		n := w.decode()
		items = append(items, n)
		if !n.Read {
			unread++
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		log.Debug().Msg("discarding stale notification fetch")
		return nil
	}
	c.items = items
	c.unread = unread
	c.syncErr = nil
	return nil
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// FetchUnreadCount pulls the unread counter from the backend.
func (c *Center) FetchUnreadCount(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	var resp unreadCountResponse
	if err := c.api.GetJSON(ctx, notificationsPath+"/unread-count", &resp); err != nil {
		c.setSyncErr(err)
		return errors.Wrap(err, "[Center.FetchUnreadCount]")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil
	}
	c.unread = resp.Count
	c.syncErr = nil
	return nil
}

// MarkRead flips one notification to read. Idempotent: marking an
// already-read item changes nothing and the counter never goes below
// zero. The backend mutation follows the optimistic local change.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	changed := false
	for i := range c.items {
		if c.items[i].ID == id && !c.items[i].Read {
			c.items[i].Read = true
			changed = true
			break
		}
	}
	if changed {
		c.generation++
		if c.unread > 0 {
			c.unread--
		}
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	return c.sync(c.api.Patch(ctx, notificationsPath+"/"+id+"/read"), "mark read")
}

// MarkAllRead flips every notification to read.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.items {
		c.items[i].Read = true
	}
	c.unread = 0
	c.generation++
	c.mu.Unlock()

	return c.sync(c.api.Patch(ctx, notificationsPath+"/read-all"), "mark all read")
}

// Remove deletes one notification, decrementing the unread counter only
// when the removed item was unread.
func (c *Center) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	found := false
	for i := range c.items {
		if c.items[i].ID == id {
			if !c.items[i].Read && c.unread > 0 {
				c.unread--
			}
			c.items = append(c.items[:i], c.items[i+1:]...)
			found = true
			break
		}
	}
	if found {
		c.generation++
	}
	c.mu.Unlock()

	if !found {
		return nil
	}
	return c.sync(c.api.Delete(ctx, notificationsPath+"/"+id), "remove")
}

// ClearAll empties the collection.
func (c *Center) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.items = nil
	c.unread = 0
	c.generation++
	c.mu.Unlock()

	return c.sync(c.api.Delete(ctx, notificationsPath), "clear all")
}

// sync records the outcome of a backend mutation. The optimistic local
// state is kept either way.
func (c *Center) sync(err error, op string) error {
	if err == nil {
		c.mu.Lock()
		c.syncErr = nil
		c.mu.Unlock()
		return nil
	}
	log.Warn().Err(err).Str("op", op).Msg("notification sync failed")
	c.setSyncErr(err)
	return errors.Wrapf(err, "[Center] %s", op)
}

func (c *Center) setSyncErr(err error) {
	c.mu.Lock()
	c.syncErr = err
	c.mu.Unlock()
}
