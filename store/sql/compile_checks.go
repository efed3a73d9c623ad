package sqlstore

import "github.com/goliatone/go-qbexport/core"

var _ core.SnapshotStore = (*SnapshotStore)(nil)
