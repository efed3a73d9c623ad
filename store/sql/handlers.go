package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// identified is a record keyed by a string uuid column named id. The
// methods tolerate nil receivers.
type identified interface {
	recordID() string
	setRecordID(id string)
}

func (r *reportSnapshotRecord) recordID() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *reportSnapshotRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *summaryRowRecord) recordID() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *summaryRowRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func uuidHandlers[T identified](newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			parsed, err := uuid.Parse(record.recordID())
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record T, id uuid.UUID) {
			record.setRecordID(id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			return record.recordID()
		},
	}
}

func reportSnapshotHandlers() repository.ModelHandlers[*reportSnapshotRecord] {
	return uuidHandlers(func() *reportSnapshotRecord { return &reportSnapshotRecord{} })
}

func summaryRowHandlers() repository.ModelHandlers[*summaryRowRecord] {
	return uuidHandlers(func() *summaryRowRecord { return &summaryRowRecord{} })
}
