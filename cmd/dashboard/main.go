package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/apiclient"
	"github.com/harborops/go-session-kit/internal/config"
	"github.com/harborops/go-session-kit/logout"
	"github.com/harborops/go-session-kit/monitor"
	"github.com/harborops/go-session-kit/notifications"
	"github.com/harborops/go-session-kit/providers"
	"github.com/harborops/go-session-kit/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running session kit: %s\n", err)
	}
	log.Printf("Stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	if c.GetEnv() == "DEV" {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	registry := c.GetProviderRegistry()
	discoverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	providers.Discover(discoverCtx, registry)
	cancel()

	store := session.NewStore(
		session.NewOIDCRefresher(registry, &http.Client{Timeout: c.GetHTTPTimeout()}),
		session.WithRefreshTimeout(c.GetHTTPTimeout()),
	)
	seedSession(store, registry)

	var orchestrator *logout.Orchestrator
	api := apiclient.New(c.GetBackendBaseURL(), store,
		apiclient.WithHTTPClient(&http.Client{Timeout: c.GetHTTPTimeout()}),
		apiclient.WithLogout(func(redirectTarget string) {
			orchestrator.Logout(context.Background(), redirectTarget)
		}, c.GetDefaultLogoutRedirect()),
	)
	orchestrator = logout.New(store, registry, api, logNavigator{}, c.GetSignOutURL(),
		logout.WithBackendTimeout(c.GetBackendLogoutTimeout()),
	)

	center := notifications.NewCenter(api)
	cancelToasts := center.SubscribeToasts(func(ev notifications.ToastEvent) {
		if !ev.Dismissed {
			zlog.Info().Str("kind", string(ev.Toast.Kind)).Str("title", ev.Toast.Title).Msg("toast")
		}
	})
	defer cancelToasts()

	mon := monitor.New(store,
		monitor.WithWarningThreshold(c.GetWarningThreshold()),
		monitor.WithPollInterval(c.GetPollInterval()),
		monitor.WithOnExpired(func() {
			orchestrator.Logout(context.Background(), c.GetDefaultLogoutRedirect())
		}),
	)
	cancelWarnings := mon.SubscribeWarnings(func(w monitor.Warning) {
		zlog.Warn().Time("expiresAt", w.ExpiresAt).Dur("remaining", w.Remaining).Msg("session expiring soon")
	})
	defer cancelWarnings()

	stop := mon.Start(context.Background())
	defer stop()

	waitForStopSignal()
	return nil
}

// seedSession hydrates the store from raw tokens supplied via the
// environment, when present. The real dashboard seeds the store from its
// authentication callback instead.
func seedSession(store *session.Store, registry *providers.Registry) {
	accessToken := os.Getenv("SESSION_ACCESS_TOKEN")
	if accessToken == "" {
		return
	}
	sess, err := session.FromTokens(
		accessToken,
		os.Getenv("SESSION_ID_TOKEN"),
		os.Getenv("SESSION_REFRESH_TOKEN"),
		registry,
	)
	if err != nil {
		zlog.Warn().Err(err).Msg("could not hydrate session from environment")
		return
	}
	store.Set(sess)
}

// logNavigator stands in for the browser redirect in the demo binary.
type logNavigator struct{}

func (logNavigator) Redirect(url string) error {
	zlog.Info().Str("url", url).Msg("redirect")
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
