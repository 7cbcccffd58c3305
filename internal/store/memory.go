package store

import (
	"context"
	"sort"
	"sync"

	"github.com/idryer/dryerd/internal/dryer"
)

// Memory is an in-memory Store: one mutex-guarded map per entity, matching
// teacher's single mutex-guarded `cache` (infinitive.go's `cache.update`/
// `cache.get`) generalized to per-entity granularity since this spec names
// concrete entities rather than arbitrary topic strings.
type Memory struct {
	dryers    *memoryDryers
	presets   *memoryPresets
	links     *memoryLinks
	telemetry *memoryTelemetry
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		dryers:    &memoryDryers{rows: map[string]DryerRecord{}},
		presets:   &memoryPresets{rows: map[string]dryer.Preset{}},
		links:     &memoryLinks{rows: map[Link]struct{}{}},
		telemetry: &memoryTelemetry{},
	}
}

func (m *Memory) Dryers() DryerRepository       { return m.dryers }
func (m *Memory) Presets() PresetRepository     { return m.presets }
func (m *Memory) Links() LinkRepository         { return m.links }
func (m *Memory) Telemetry() TelemetryRepository { return m.telemetry }

type memoryDryers struct {
	mu   sync.RWMutex
	rows map[string]DryerRecord
}

func (r *memoryDryers) List(_ context.Context) ([]DryerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DryerRecord, 0, len(r.rows))
	for _, rec := range r.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryDryers) Get(_ context.Context, id string) (DryerRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[id]
	return rec, ok, nil
}

func (r *memoryDryers) Upsert(_ context.Context, rec DryerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.ID] = rec
	return nil
}

func (r *memoryDryers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memoryPresets struct {
	mu   sync.RWMutex
	rows map[string]dryer.Preset
}

func (r *memoryPresets) List(_ context.Context) ([]dryer.Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dryer.Preset, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryPresets) Get(_ context.Context, id string) (dryer.Preset, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[id]
	return p, ok, nil
}

func (r *memoryPresets) Upsert(_ context.Context, preset dryer.Preset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[preset.ID] = preset
	return nil
}

func (r *memoryPresets) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memoryLinks struct {
	mu   sync.RWMutex
	rows map[Link]struct{}
}

func (r *memoryLinks) List(_ context.Context) ([]Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Link, 0, len(r.rows))
	for l := range r.rows {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DryerID != out[j].DryerID {
			return out[i].DryerID < out[j].DryerID
		}
		return out[i].PresetID < out[j].PresetID
	})
	return out, nil
}

func (r *memoryLinks) Exists(_ context.Context, dryerID, presetID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rows[Link{DryerID: dryerID, PresetID: presetID}]
	return ok, nil
}

func (r *memoryLinks) Upsert(_ context.Context, link Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[link] = struct{}{}
	return nil
}

func (r *memoryLinks) Delete(_ context.Context, dryerID, presetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, Link{DryerID: dryerID, PresetID: presetID})
	return nil
}

type memoryTelemetry struct {
	mu   sync.RWMutex
	rows []dryer.Row
}

func (r *memoryTelemetry) Append(_ context.Context, row dryer.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *memoryTelemetry) Query(_ context.Context, dryerID string, limit int) ([]dryer.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []dryer.Row
	for _, row := range r.rows {
		if row.DryerID == dryerID {
			matched = append(matched, row)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
