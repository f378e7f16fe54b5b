package productstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/macrolens/foodfacts/internal/domain"
)

// SnapshotVersion is written into every persisted document
const SnapshotVersion = "1.0.0"

// supportedVersions accepts any document written by a 1.x store
var supportedVersions = mustConstraint("^1.0.0")

// Snapshot is the persisted layout of the whole store
type Snapshot struct {
	Products    map[string]domain.StoredProduct `json:"products"`
	LastUpdated time.Time                       `json:"lastUpdated"`
	Version     string                          `json:"version"`
}

// NewSnapshot returns an empty snapshot at the current version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Products: make(map[string]domain.StoredProduct),
		Version:  SnapshotVersion,
	}
}

// Backend persists store contents.
//
// Save receives the records changed by the current mutation and a function
// producing the complete snapshot; whole-document backends use the latter,
// per-record backends the former.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, changed []domain.StoredProduct, snapshot func() *Snapshot) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Close() error
}

// checkVersion rejects documents from an incompatible store version.
// Documents without a version predate versioning and are accepted.
func checkVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid snapshot version %q: %w", version, err)
	}
	if !supportedVersions.Check(v) {
		return fmt.Errorf("unsupported snapshot version %s (want %s)", v, SnapshotVersion)
	}
	return nil
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}
