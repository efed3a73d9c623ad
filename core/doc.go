// Package core holds the QuickBooks export domain: credential records and
// their lifecycle, project hierarchies, expense summaries and the Service
// pipeline that ties them together. Adapters for HTTP, storage and queues
// depend on this package; core does not depend on them.
package core
