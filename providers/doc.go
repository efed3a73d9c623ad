// Package providers implements the OAuth2 token endpoint client and the
// QuickBooks provider defaults built on top of it.
package providers
