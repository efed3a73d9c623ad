// Package pagination walks the QuickBooks query endpoint page by page and
// reports partial reads instead of failing them.
package pagination
