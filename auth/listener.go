package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-qbexport/core"
)

const (
	invalidResponseMessage = "Invalid authorization response."
	alreadyCompleteMessage = "Authorization already completed."
	readHeaderTimeout      = 10 * time.Second
)

const successPage = `<!DOCTYPE html>
<html>
<head><title>QuickBooks authorization complete</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// NewCallbackHandler routes only the configured redirect path. Every other
// path answers 404 without touching state.
func NewCallbackHandler(state *State, logger core.Logger) http.Handler {
	logger = glog.Ensure(logger)
	router := chi.NewRouter()
	notFound := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	}
	router.NotFound(notFound)
	router.MethodNotAllowed(notFound)
	router.Get(state.Target.Path, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, state, logger)
	})
	return router
}

func handleCallback(w http.ResponseWriter, r *http.Request, state *State, logger core.Logger) {
	if state.Completed() {
		http.Error(w, alreadyCompleteMessage, http.StatusGone)
		return
	}

	query := r.URL.Query()
	if reason := strings.TrimSpace(query.Get("error")); reason != "" {
		if !state.Complete(Outcome{Denied: true, Reason: reason}) {
			http.Error(w, alreadyCompleteMessage, http.StatusGone)
			return
		}
		logger.Warn("authorization denied by provider", "reason", reason)
		http.Error(w, invalidResponseMessage, http.StatusBadRequest)
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" || !state.MatchesNonce(query.Get("state")) {
		reason := "state mismatch"
		if code == "" {
			reason = "missing authorization code"
		}
		if !state.Complete(Outcome{Denied: true, Reason: reason}) {
			http.Error(w, alreadyCompleteMessage, http.StatusGone)
			return
		}
		logger.Warn("authorization callback rejected", "reason", reason)
		http.Error(w, invalidResponseMessage, http.StatusBadRequest)
		return
	}

	realmID := strings.TrimSpace(query.Get("realmId"))
	if !state.Complete(Outcome{Code: code, RealmID: realmID}) {
		http.Error(w, alreadyCompleteMessage, http.StatusGone)
		return
	}
	logger.Info("authorization code received", "realm_id", realmID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(successPage))
}

// Listener serves the callback handler until Shutdown.
type Listener struct {
	server   *http.Server
	listener net.Listener
	errs     chan error
}

// StartListener serves the handler on ln in its own goroutine.
func StartListener(ln net.Listener, handler http.Handler) *Listener {
	l := &Listener{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listener: ln,
		errs:     make(chan error, 1),
	}
	go func() {
		err := l.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		l.errs <- err
	}()
	return l
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Shutdown(ctx context.Context) error {
	if l == nil || l.server == nil {
		return nil
	}
	if err := l.server.Shutdown(ctx); err != nil {
		_ = l.server.Close()
		return err
	}
	return <-l.errs
}
