// Package security seals the persisted credential record with an
// application key.
package security
