package auth

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const defaultCallbackPath = "/callback"

// RedirectTarget is the parsed redirect uri the listener binds to.
type RedirectTarget struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseRedirectTarget reads scheme, host, port and path from a redirect uri.
// Host defaults to localhost, port to the scheme default, path to /callback.
func ParseRedirectTarget(raw string) (RedirectTarget, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("auth: parse redirect uri: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return RedirectTarget{}, fmt.Errorf("auth: redirect uri scheme must be http or https, got %q", parsed.Scheme)
	}
	target := RedirectTarget{
		Scheme: scheme,
		Host:   parsed.Hostname(),
		Path:   parsed.Path,
	}
	if target.Host == "" {
		target.Host = "localhost"
	}
	if target.Path == "" {
		target.Path = defaultCallbackPath
	}
	if port := parsed.Port(); port != "" {
		value, convErr := strconv.Atoi(port)
		if convErr != nil || value < 0 || value > 65535 {
			return RedirectTarget{}, fmt.Errorf("auth: redirect uri port %q is invalid", port)
		}
		target.Port = value
	} else if scheme == "https" {
		target.Port = 443
	} else {
		target.Port = 80
	}
	return target, nil
}

func (t RedirectTarget) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Outcome is what the callback captured.
type Outcome struct {
	Code    string
	RealmID string
	Denied  bool
	Reason  string
}

// State is owned by a single authorization attempt. The callback handler
// completes it at most once; the poll loop observes it.
type State struct {
	Nonce  string
	Target RedirectTarget

	mu        sync.Mutex
	outcome   Outcome
	completed bool
	done      chan struct{}
}

func NewState(nonce string, target RedirectTarget) *State {
	return &State{
		Nonce:  nonce,
		Target: target,
		done:   make(chan struct{}),
	}
}

// MatchesNonce compares in constant time.
func (s *State) MatchesNonce(candidate string) bool {
	if s == nil || s.Nonce == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.Nonce), []byte(candidate)) == 1
}

// Complete records the outcome. Only the first call wins.
func (s *State) Complete(outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false
	}
	s.outcome = outcome
	s.completed = true
	close(s.done)
	return true
}

func (s *State) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *State) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.completed
}

func (s *State) Done() <-chan struct{} {
	return s.done
}
