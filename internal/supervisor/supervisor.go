// Package supervisor runs the ~1Hz scheduler that reconciles runtime
// dryer controllers with the persisted dryer set, ticks each one, and
// broadcasts the resulting telemetry. Grounded on the teacher's
// statePoller for{...time.Sleep(time.Second)} shape (infinitive.go),
// generalized from a single global poll target to an owned map of
// per-dryer controllers reconciled against the store every iteration.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idryer/dryerd/internal/dryer"
	"github.com/idryer/dryerd/internal/moonraker"
	"github.com/idryer/dryerd/internal/store"
	"github.com/idryer/dryerd/internal/telemetry"
)

const (
	tickInterval    = time.Second
	startupRetry    = 3 * time.Second
	faultBackoff    = time.Second
)

// Supervisor owns the live set of runtime Controllers and the reconcile
// loop that keeps it in sync with the store.
type Supervisor struct {
	client *moonraker.Client
	store  store.Store
	hub    *telemetry.Hub
	log    *logrus.Entry

	now func() time.Time

	// mu guards controllers/configs: the reconcile/tick loop mutates and
	// iterates them from Run's goroutine, while SetPreset is called
	// concurrently from the API's HTTP handlers.
	mu          sync.RWMutex
	controllers map[string]*dryer.Controller
	configs     map[string]dryer.Config
}

// New constructs a Supervisor. Call Run to start the reconcile loop; it
// blocks until ctx is cancelled. hub may be nil when no MQTT broker was
// configured, in which case ticks run without broadcasting telemetry.
func New(client *moonraker.Client, st store.Store, hub *telemetry.Hub, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		client:      client,
		store:       st,
		hub:         hub,
		log:         log.WithField("component", "supervisor"),
		now:         time.Now,
		controllers: map[string]*dryer.Controller{},
		configs:     map[string]dryer.Config{},
	}
}

// Run executes the reconcile-tick-broadcast-sleep loop until ctx is
// cancelled. Startup failures (initial Moonraker connection, first
// reconcile) retry every 3s; once running, a faulted tick applies safety
// shutoff and backs off 1s before resuming, never killing the loop.
func (s *Supervisor) Run(ctx context.Context) {
	if err := s.waitForStartup(ctx); err != nil {
		return // ctx cancelled while waiting to start
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := s.now()
		if err := s.tickAll(ctx); err != nil {
			s.log.WithError(err).Error("supervisor tick faulted, applying safety shutoff")
			s.safetyShutoffAll(ctx)
			sleepCtx(ctx, faultBackoff)
			continue
		}

		elapsed := s.now().Sub(start)
		sleepCtx(ctx, clampSleep(tickInterval-elapsed))
	}
}

// waitForStartup blocks until the store's dryer list can be loaded and
// Moonraker answers an object-list request, retrying every 3s. Returns a
// non-nil error only when ctx is cancelled first.
func (s *Supervisor) waitForStartup(ctx context.Context) error {
	for {
		_, err := s.store.Dryers().List(ctx)
		if err == nil {
			_, err = s.client.ListObjects(ctx)
		}
		if err == nil {
			return nil
		}
		s.log.WithError(err).Warn("startup: store or Moonraker not ready, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupRetry):
		}
	}
}

// tickAll runs one full reconcile-tick-broadcast iteration.
func (s *Supervisor) tickAll(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := make(map[string]*dryer.Controller, len(s.controllers))
	for id, ctrl := range s.controllers {
		snapshot[id] = ctrl
	}
	s.mu.RUnlock()

	rows := make([]json.RawMessage, 0, len(snapshot))
	for id, ctrl := range snapshot {
		row, err := s.tickOne(ctx, id, ctrl)
		if err != nil {
			return err
		}
		if err := s.store.Telemetry().Append(ctx, row); err != nil {
			return err
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return err
		}
		rows = append(rows, payload)
		if s.hub != nil {
			s.hub.BroadcastDryerRow(id, payload)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastBatch(rows)
	}
	return nil
}

// reconcile drops controllers for dryers no longer persisted (or whose
// config changed), and creates+initializes controllers for persisted
// dryers with no runtime twin yet.
func (s *Supervisor) reconcile(ctx context.Context) error {
	records, err := s.store.Dryers().List(ctx)
	if err != nil {
		return err
	}

	live := make(map[string]store.DryerRecord, len(records))
	for _, rec := range records {
		live[rec.ID] = rec
	}

	s.mu.Lock()
	var toCreate []store.DryerRecord
	for id := range s.controllers {
		rec, ok := live[id]
		if !ok || !configsEqual(rec.Config, s.configs[id]) {
			s.log.WithField("dryer", id).Info("destroying runtime controller")
			delete(s.controllers, id)
			delete(s.configs, id)
		}
	}
	for id, rec := range live {
		if _, ok := s.controllers[id]; !ok {
			toCreate = append(toCreate, rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range toCreate {
		ctrl, err := dryer.New(s.client, rec.Config, s.log)
		if err != nil {
			s.log.WithField("dryer", rec.ID).WithError(err).Error("invalid dryer config, skipping")
			continue
		}
		if err := ctrl.Init(ctx); err != nil {
			s.log.WithField("dryer", rec.ID).WithError(err).Error("dryer init failed, skipping")
			continue
		}
		s.mu.Lock()
		s.controllers[rec.ID] = ctrl
		s.configs[rec.ID] = rec.Config
		s.mu.Unlock()
		s.log.WithField("dryer", rec.ID).Info("attached runtime controller")
	}
	return nil
}

// tickOne resolves the controller's current preset against the store
// (link + preset existence), queries Moonraker, and runs one tick.
func (s *Supervisor) tickOne(ctx context.Context, id string, ctrl *dryer.Controller) (dryer.Row, error) {
	status, err := s.client.Query(ctx, ctrl.DeviceNames()...)
	if err != nil {
		return dryer.Row{}, err
	}

	reconcilePreset, err := s.resolvePreset(ctx, id, ctrl)
	if err != nil {
		return dryer.Row{}, err
	}

	return ctrl.Tick(ctx, status, reconcilePreset)
}

// resolvePreset returns the fresh preset snapshot for reconciliation, or
// nil if the controller has no active preset, or its link/preset row no
// longer exists in the store.
func (s *Supervisor) resolvePreset(ctx context.Context, dryerID string, ctrl *dryer.Controller) (*dryer.Preset, error) {
	presetID := ctrl.CurrentPresetID()
	if presetID == "" {
		return nil, nil
	}

	linked, err := s.store.Links().Exists(ctx, dryerID, presetID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, nil
	}

	preset, ok, err := s.store.Presets().Get(ctx, presetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &preset, nil
}

// safetyShutoffAll best-effort forces every live controller's heater off.
// Errors are swallowed: a shutoff attempt must not itself fault the loop.
func (s *Supervisor) safetyShutoffAll(ctx context.Context) {
	s.mu.RLock()
	snapshot := make(map[string]*dryer.Controller, len(s.controllers))
	for id, ctrl := range s.controllers {
		snapshot[id] = ctrl
	}
	s.mu.RUnlock()

	for id, ctrl := range snapshot {
		if err := ctrl.SetForcedOff(ctx); err != nil {
			s.log.WithField("dryer", id).WithError(err).Warn("safety shutoff failed")
		}
	}
}

// SetPreset drives a live controller's preset, for the control API.
// Returns a moonraker.KindNotFound error if the dryer has no runtime
// controller (not yet reconciled, or unknown id).
func (s *Supervisor) SetPreset(ctx context.Context, dryerID, presetID string) error {
	s.mu.RLock()
	ctrl, ok := s.controllers[dryerID]
	s.mu.RUnlock()
	if !ok {
		return moonraker.NewError("supervisor.SetPreset", moonraker.KindNotFound, fmt.Errorf("no runtime controller for dryer %q", dryerID))
	}

	if presetID == "" {
		return ctrl.SetPreset(ctx, nil)
	}

	preset, ok, err := s.store.Presets().Get(ctx, presetID)
	if err != nil {
		return err
	}
	if !ok {
		return moonraker.NewError("supervisor.SetPreset", moonraker.KindNotFound, fmt.Errorf("preset %q not found", presetID))
	}
	return ctrl.SetPreset(ctx, &preset)
}

func configsEqual(a, b dryer.Config) bool { return a == b }

func clampSleep(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
