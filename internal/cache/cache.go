// Package cache is the durable slot that lets in-flight jobs survive a
// process restart. One snapshot per user under a single well-known key;
// concurrent writers are last-write-wins.
package cache

import (
	"context"
	"time"

	"github.com/makereels/sync/internal/model"
)

// SchemaVersion is bumped whenever the snapshot layout changes. A
// snapshot with any other version is discarded like a corrupt one.
const SchemaVersion = 1

// Snapshot is the persisted form of the tracked job list
type Snapshot struct {
	SchemaVersion int                   `json:"schemaVersion"`
	SavedAt       time.Time             `json:"savedAt"`
	Jobs          []model.ProcessingJob `json:"jobs"`
}

// Store persists at most one Snapshot. Load returns (nil, nil) when no
// usable snapshot exists; corrupt or wrong-version entries are deleted
// and reported as absent, never as errors.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context) error
}
