package apiclient_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/harborops/go-session-kit/apiclient"
	"github.com/harborops/go-session-kit/providers"
	"github.com/harborops/go-session-kit/session"
	"github.com/harborops/go-session-kit/session/refresherfakes"
)

const (
	staleToken   = "stale-access-token"
	renewedToken = "renewed-access-token"
)

func activeSession(token string) session.Session {
	return session.Session{
		AccessToken:  token,
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		Provider:     providers.EmployeeProvider,
	}
}

type testFixture struct {
	refresher *refresherfakes.FakeRefresher
	store     *session.Store
	server    *httptest.Server
	client    *apiclient.Client

	requests atomic.Int64

	mu              sync.Mutex
	logoutRedirects []string
	auxCleared      int
}

// setupTestFixture starts a backend that rejects the stale token with 401
// and accepts the renewed one.
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{}
	f.refresher = refresherfakes.NewFakeRefresher(activeSession(renewedToken))
	f.store = session.NewStore(f.refresher)
	f.store.Set(activeSession(staleToken))

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		switch r.Header.Get("Authorization") {
		case "Bearer " + renewedToken:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(f.server.Close)

	f.client = apiclient.New(f.server.URL, f.store,
		apiclient.WithLogout(func(redirectTarget string) {
			f.mu.Lock()
			f.logoutRedirects = append(f.logoutRedirects, redirectTarget)
			f.mu.Unlock()
		}, "/login"),
		apiclient.WithClearAuxState(func() {
			f.mu.Lock()
			f.auxCleared++
			f.mu.Unlock()
		}),
	)
	return f
}

type okResponse struct {
	OK bool `json:"ok"`
}

func TestRefreshAndRetryOn401(t *testing.T) {
	f := setupTestFixture(t)

	var out okResponse
	require.NoError(t, f.client.GetJSON(context.Background(), "/api/bookings", &out))
	require.True(t, out.OK)
	require.Equal(t, 1, f.refresher.Calls())
	require.Equal(t, int64(2), f.requests.Load())
	require.Equal(t, renewedToken, f.store.Current().AccessToken)
}

func TestConcurrent401sCollapseToOneRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.refresher.Block = make(chan struct{})

	const callers = 3
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out okResponse
			errs <- f.client.GetJSON(context.Background(), "/api/bookings", &out)
		}()
	}

	// All three receive their 401 and pile onto the pending refresh
	// before it settles.
	require.Eventually(t, func() bool {
		return f.refresher.Calls() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.refresher.Block)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.refresher.Calls())
	// 3 original attempts + 3 retries, no more.
	require.Equal(t, int64(6), f.requests.Load())
}

func TestSecond401IsTerminal(t *testing.T) {
	f := setupTestFixture(t)
	// The refresh "succeeds" but the backend still rejects the token.
	f.refresher.Session = activeSession("still-rejected-token")

	err := f.client.GetJSON(context.Background(), "/api/bookings", &okResponse{})
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)
	require.Equal(t, 1, f.refresher.Calls())
	// Exactly two network calls: the original and the single retry.
	require.Equal(t, int64(2), f.requests.Load())
}

func TestRetryMarkedRequestFailsWithoutRefresh(t *testing.T) {
	f := setupTestFixture(t)

	ctx := apiclient.WithRetryMark(context.Background())
	err := f.client.GetJSON(ctx, "/api/bookings", &okResponse{})
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)
	require.Zero(t, f.refresher.Calls())
	require.Equal(t, int64(1), f.requests.Load())
}

func TestFailedRefreshEscalatesToLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.refresher.Err = errors.New("refresh endpoint down")

	err := f.client.GetJSON(context.Background(), "/api/bookings", &okResponse{})
	require.ErrorIs(t, err, session.ErrSessionExpired)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"/login"}, f.logoutRedirects)
	require.Equal(t, 1, f.auxCleared)
}

func TestConcurrentFailuresShareTheTerminalError(t *testing.T) {
	f := setupTestFixture(t)
	f.refresher.Err = errors.New("refresh endpoint down")
	f.refresher.Block = make(chan struct{})

	const callers = 3
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.client.GetJSON(context.Background(), "/api/bookings", &okResponse{})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.refresher.Block)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, session.ErrSessionExpired)
	}
	require.Equal(t, 1, f.refresher.Calls())
}

func TestCanceledWaiterDoesNotForceLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.refresher.Block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.client.GetJSON(ctx, "/api/bookings", &okResponse{})
	}()

	// The caller has hit its 401 and is waiting on the blocked refresh;
	// abandoning the wait is its problem alone.
	require.Eventually(t, func() bool {
		return f.refresher.Calls() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, session.ErrSessionExpired)

	// The flight still succeeds for the rest of the process.
	close(f.refresher.Block)
	require.Eventually(t, func() bool {
		return f.store.Current().AccessToken == renewedToken
	}, time.Second, 10*time.Millisecond)

	var out okResponse
	require.NoError(t, f.client.GetJSON(context.Background(), "/api/bookings", &out))
	require.True(t, out.OK)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Empty(t, f.logoutRedirects)
	require.Zero(t, f.auxCleared)
}

func TestForbiddenIsNeverRetried(t *testing.T) {
	forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer forbidden.Close()

	refresher := refresherfakes.NewFakeRefresher(activeSession(renewedToken))
	store := session.NewStore(refresher)
	store.Set(activeSession(staleToken))
	client := apiclient.New(forbidden.URL, store)

	var authzErrs []apiclient.AuthzError
	var mu sync.Mutex
	cancel := client.SubscribeAuthzErrors(func(e apiclient.AuthzError) {
		mu.Lock()
		authzErrs = append(authzErrs, e)
		mu.Unlock()
	})
	defer cancel()

	err := client.GetJSON(context.Background(), "/api/admin/reports", &okResponse{})
	require.ErrorIs(t, err, apiclient.ErrForbidden)
	require.Zero(t, refresher.Calls())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, authzErrs, 1)
	require.Equal(t, "/api/admin/reports", authzErrs[0].Path)
	require.Equal(t, http.MethodGet, authzErrs[0].Method)
}

func TestPostJSONBodyReplayedOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(buf))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+renewedToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	refresher := refresherfakes.NewFakeRefresher(activeSession(renewedToken))
	store := session.NewStore(refresher)
	store.Set(activeSession(staleToken))
	client := apiclient.New(server.URL, store)

	var out okResponse
	err := client.PostJSON(context.Background(), "/api/bookings", map[string]string{"route": "HEL-TAL"}, &out)
	require.NoError(t, err)
	require.True(t, out.OK)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	require.Equal(t, bodies[0], bodies[1])
	require.Contains(t, bodies[1], "HEL-TAL")
}

func TestNetworkErrorSurfaced(t *testing.T) {
	refresher := refresherfakes.NewFakeRefresher(activeSession(renewedToken))
	store := session.NewStore(refresher)
	store.Set(activeSession(staleToken))
	client := apiclient.New("http://127.0.0.1:1", store)

	err := client.GetJSON(context.Background(), "/api/bookings", &okResponse{})
	require.ErrorIs(t, err, apiclient.ErrNetwork)
}

func TestNon2xxIsBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := session.NewStore(nil)
	store.Set(activeSession(renewedToken))
	client := apiclient.New(server.URL, store)

	err := client.Patch(context.Background(), "/api/notifications/read-all")
	require.ErrorIs(t, err, apiclient.ErrBackendUnavailable)
}
