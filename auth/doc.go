// Package auth runs the interactive OAuth2 authorization code flow: it serves
// a one-shot callback on the configured redirect uri, opens the consent page
// and waits for the provider to redirect back.
package auth
