// Package store defines the CRUD-shaped repository interfaces the rest of
// the dryer control subsystem persists through, and an in-memory adapter
// that satisfies them for the default runnable binary and for tests.
// Persistence internals (schema, migrations, a real database) are
// deliberately out of scope; callers see only List/Get/Upsert/Delete and
// Append/Query.
package store

import (
	"context"

	"github.com/idryer/dryerd/internal/dryer"
)

// DryerRecord is one persisted dryer's identity and hardware binding.
type DryerRecord struct {
	ID     string
	Config dryer.Config
}

// Link authorizes a preset to drive a dryer. Presence of the row is the
// authorization; there is no extra state on the link itself.
type Link struct {
	DryerID  string
	PresetID string
}

// DryerRepository is the opaque CRUD surface over persisted dryers.
type DryerRepository interface {
	List(ctx context.Context) ([]DryerRecord, error)
	Get(ctx context.Context, id string) (DryerRecord, bool, error)
	Upsert(ctx context.Context, rec DryerRecord) error
	Delete(ctx context.Context, id string) error
}

// PresetRepository is the opaque CRUD surface over persisted presets.
type PresetRepository interface {
	List(ctx context.Context) ([]dryer.Preset, error)
	Get(ctx context.Context, id string) (dryer.Preset, bool, error)
	Upsert(ctx context.Context, preset dryer.Preset) error
	Delete(ctx context.Context, id string) error
}

// LinkRepository is the opaque CRUD surface over preset<->dryer links.
type LinkRepository interface {
	List(ctx context.Context) ([]Link, error)
	Exists(ctx context.Context, dryerID, presetID string) (bool, error)
	Upsert(ctx context.Context, link Link) error
	Delete(ctx context.Context, dryerID, presetID string) error
}

// TelemetryRepository is the append-only log of per-tick telemetry rows.
type TelemetryRepository interface {
	Append(ctx context.Context, row dryer.Row) error
	// Query returns the most recent rows for a dryer, oldest first, bounded
	// to limit (0 means no bound).
	Query(ctx context.Context, dryerID string, limit int) ([]dryer.Row, error)
}

// Store bundles the four repositories the rest of the subsystem depends on.
type Store interface {
	Dryers() DryerRepository
	Presets() PresetRepository
	Links() LinkRepository
	Telemetry() TelemetryRepository
}
