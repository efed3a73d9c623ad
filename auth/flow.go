package auth

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/providers"
)

const shutdownTimeout = 5 * time.Second

// ConsentURLBuilder renders the provider consent page for a nonce.
type ConsentURLBuilder interface {
	ConsentURL(state string) (string, error)
}

type CoordinatorConfig struct {
	Consent      ConsentURLBuilder
	RedirectURI  string
	PollInterval time.Duration
	Timeout      time.Duration
	Opener       BrowserOpener
	Output       io.Writer
	Logger       core.Logger
	NewNonce     func() (string, error)
	Listen       func(addr string) (net.Listener, error)
}

// Coordinator runs the authorization code flow against a one-shot local
// callback listener.
type Coordinator struct {
	consent      ConsentURLBuilder
	target       RedirectTarget
	pollInterval time.Duration
	timeout      time.Duration
	opener       BrowserOpener
	output       io.Writer
	logger       core.Logger
	newNonce     func() (string, error)
	listen       func(addr string) (net.Listener, error)
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Consent == nil {
		return nil, fmt.Errorf("auth: consent url builder is required")
	}
	redirect := strings.TrimSpace(cfg.RedirectURI)
	if redirect == "" {
		redirect = core.DefaultRedirectURI
	}
	target, err := ParseRedirectTarget(redirect)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		consent:      cfg.Consent,
		target:       target,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		opener:       cfg.Opener,
		output:       cfg.Output,
		logger:       glog.Ensure(cfg.Logger),
		newNonce:     cfg.NewNonce,
		listen:       cfg.Listen,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = core.DefaultPollInterval
	}
	if c.timeout <= 0 {
		c.timeout = core.DefaultAuthTimeout
	}
	if c.output == nil {
		c.output = os.Stdout
	}
	if c.newNonce == nil {
		c.newNonce = providers.NewState
	}
	if c.listen == nil {
		c.listen = func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		}
	}
	return c, nil
}

func (c *Coordinator) Target() RedirectTarget {
	return c.target
}

// Authorize opens the consent page and waits for the callback. It returns
// *core.AuthorizationDeniedError when the callback is rejected and
// *core.AuthorizationTimeoutError when nothing arrives in time.
func (c *Coordinator) Authorize(ctx context.Context, timeout time.Duration) (core.Grant, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	nonce, err := c.newNonce()
	if err != nil {
		return core.Grant{}, err
	}
	state := NewState(nonce, c.target)

	consentURL, err := c.consent.ConsentURL(nonce)
	if err != nil {
		return core.Grant{}, fmt.Errorf("auth: build consent url: %w", err)
	}

	ln, err := c.listen(c.target.Addr())
	if err != nil {
		return core.Grant{}, fmt.Errorf("auth: listen on %s: %w", c.target.Addr(), err)
	}
	listener := StartListener(ln, NewCallbackHandler(state, c.logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := listener.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("callback listener shutdown failed", "error", err)
		}
	}()

	fmt.Fprintf(c.output, "Open this URL to authorize QuickBooks access:\n%s\n", consentURL)
	if c.opener != nil {
		if err := c.opener.Open(consentURL); err != nil {
			c.logger.Warn("could not open browser", "error", err)
		}
	}
	c.logger.Info("waiting for authorization callback", "addr", listener.Addr().String(), "path", c.target.Path, "timeout", timeout.String())

	return c.poll(ctx, state, timeout)
}

func (c *Coordinator) poll(ctx context.Context, state *State, timeout time.Duration) (core.Grant, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if grant, done, err := settled(state); done {
			return grant, err
		}
		select {
		case <-ticker.C:
		case <-state.Done():
		case <-deadline.C:
			return expire(state, timeout)
		case <-ctx.Done():
			return expire(state, timeout)
		}
	}
}

// settled converts a completed state into the flow result.
func settled(state *State) (core.Grant, bool, error) {
	outcome, done := state.Outcome()
	switch {
	case !done:
		return core.Grant{}, false, nil
	case outcome.Denied:
		return core.Grant{}, true, &core.AuthorizationDeniedError{Reason: outcome.Reason}
	default:
		return core.Grant{Code: outcome.Code, RealmID: outcome.RealmID}, true, nil
	}
}

// expire reports a timeout unless the callback completed in the same tick.
func expire(state *State, timeout time.Duration) (core.Grant, error) {
	if grant, done, err := settled(state); done {
		return grant, err
	}
	return core.Grant{}, &core.AuthorizationTimeoutError{Timeout: timeout}
}

var _ core.Authorizer = (*Coordinator)(nil)
