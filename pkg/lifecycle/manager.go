// Package lifecycle tracks every admitted signal through its stages and
// garbage-collects signal state across the coordinator on two cadences:
// a light sweep for expired records and a deep sweep that bounds memory.
package lifecycle

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/vignesh-goutham/hermes/pkg/types"
)

const (
	DefaultBaseTTL    = 15 * time.Minute
	ExecutedTTL       = 24 * time.Hour
	FailedTTL         = time.Hour
	DefaultLightSweep = 5 * time.Minute
	DefaultDeepSweep  = time.Hour
	DefaultMaxRecords = 1000
)

// Purger removes a signal's shadow state from a collaborating cache or
// from the shared store. Registered once at wiring time; invoked for
// every record the sweep retires and for operator purges.
type Purger func(ctx context.Context, record types.LifecycleRecord)

// allowed maps each stage to the stages reachable from it. CleanedUp is
// terminal and only reachable through the sweep itself.
var allowed = map[types.Stage][]types.Stage{
	types.StageGenerated: {types.StageValidated, types.StageExpired},
	types.StageValidated: {types.StageQueued, types.StageExpired},
	types.StageQueued:    {types.StageExecuting, types.StageExpired},
	types.StageExecuting: {types.StageExecuted, types.StageFailed, types.StageExpired},
	types.StageFailed:    {types.StageExecuting, types.StageExpired},
	types.StageExecuted:  {},
	types.StageExpired:   {},
	types.StageCleanedUp: {},
}

// Manager holds lifecycle records and runs the background sweeps
type Manager struct {
	baseTTL    time.Duration
	lightEvery time.Duration
	deepEvery  time.Duration
	maxRecords int

	mu      sync.Mutex
	records map[string]*types.LifecycleRecord
	purgers []Purger

	onSweep func(kind string, removed int)
	now     func() time.Time
}

// NewManager creates a lifecycle manager; zero values fall back to the
// defaults
func NewManager(baseTTL, lightEvery, deepEvery time.Duration, maxRecords int) *Manager {
	if baseTTL <= 0 {
		baseTTL = DefaultBaseTTL
	}
	if lightEvery <= 0 {
		lightEvery = DefaultLightSweep
	}
	if deepEvery <= 0 {
		deepEvery = DefaultDeepSweep
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Manager{
		baseTTL:    baseTTL,
		lightEvery: lightEvery,
		deepEvery:  deepEvery,
		maxRecords: maxRecords,
		records:    make(map[string]*types.LifecycleRecord),
		now:        time.Now,
	}
}

// AddPurger registers a shadow-state purger invoked when records retire
func (m *Manager) AddPurger(p Purger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgers = append(m.purgers, p)
}

// OnSweep registers a hook receiving sweep statistics
func (m *Manager) OnSweep(fn func(kind string, removed int)) {
	m.onSweep = fn
}

// Register creates the Generated record for a newly admitted signal
func (m *Manager) Register(sig *types.SignalCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.records[sig.SignalID] = &types.LifecycleRecord{
		SignalID:         sig.SignalID,
		Stage:            types.StageGenerated,
		Symbol:           sig.Symbol,
		Action:           sig.Action,
		Strategy:         sig.Strategy,
		Confidence:       sig.NormalizedConfidence(),
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

// Transition moves a signal to the given stage. Transitions outside the
// state machine are logged and ignored, never applied; the return value
// reports whether the transition took effect.
func (m *Manager) Transition(signalID string, stage types.Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[signalID]
	if !ok {
		log.Printf("Ignoring transition to %s for unknown signal %s", stage, signalID)
		return false
	}

	for _, next := range allowed[record.Stage] {
		if next == stage {
			record.Stage = stage
			record.LastTransitionAt = m.now()
			return true
		}
	}
	log.Printf("Ignoring invalid transition %s -> %s for signal %s", record.Stage, stage, signalID)
	return false
}

// Get returns a copy of the lifecycle record for signalID
func (m *Manager) Get(signalID string) (types.LifecycleRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[signalID]
	if !ok {
		return types.LifecycleRecord{}, false
	}
	return *record, true
}

// Count returns the number of tracked records
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// IsExpired reports whether the record at signalID has outlived its
/// stage-dependent retention: Executed records are kept for audit,
// Failed records for analysis, everything else the base TTL.
func (m *Manager) IsExpired(signalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[signalID]
	if !ok {
		return true
	}
	return m.expiredLocked(record)
}

func (m *Manager) expiredLocked(record *types.LifecycleRecord) bool {
	age := m.now().Sub(record.LastTransitionAt)
	switch record.Stage {
	case types.StageExecuted:
		return age > ExecutedTTL
	case types.StageFailed:
		return age > FailedTTL
	default:
		return age > m.baseTTL
	}
}

// LightSweep retires expired records and purges their shadow state from
// every collaborating cache and the shared store
func (m *Manager) LightSweep(ctx context.Context) int {
	m.mu.Lock()
	var retired []types.LifecycleRecord
	for signalID, record := range m.records {
		if m.expiredLocked(record) {
			record.Stage = types.StageCleanedUp
			retired = append(retired, *record)
			delete(m.records, signalID)
		}
	}
	purgers := m.purgers
	m.mu.Unlock()

	for _, record := range retired {
		for _, purge := range purgers {
			purge(ctx, record)
		}
	}

	if len(retired) > 0 {
		log.Printf("Light sweep cleaned up %d signals", len(retired))
	}
	if m.onSweep != nil {
		m.onSweep("light", len(retired))
	}
	return len(retired)
}

// DeepSweep runs a light sweep and then trims the record set to the hard
// cap, newest first, so memory stays bounded regardless of throughput
func (m *Manager) DeepSweep(ctx context.Context) int {
	removed := m.LightSweep(ctx)

	m.mu.Lock()
	var overflow []types.LifecycleRecord
	if len(m.records) > m.maxRecords {
		all := make([]*types.LifecycleRecord, 0, len(m.records))
		for _, record := range m.records {
			all = append(all, record)
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		})
		for _, record := range all[m.maxRecords:] {
			record.Stage = types.StageCleanedUp
			overflow = append(overflow, *record)
			delete(m.records, record.SignalID)
		}
	}
	purgers := m.purgers
	m.mu.Unlock()

	for _, record := range overflow {
		for _, purge := range purgers {
			purge(ctx, record)
		}
	}

	if len(overflow) > 0 {
		log.Printf("Deep sweep trimmed %d records over the %d cap", len(overflow), m.maxRecords)
	}
	if m.onSweep != nil {
		m.onSweep("deep", len(overflow))
	}
	return removed + len(overflow)
}

// Purge removes one signal and its shadow state immediately, for the
// attempt-budget path and operator use
func (m *Manager) Purge(ctx context.Context, signalID string) {
	m.mu.Lock()
	record, ok := m.records[signalID]
	var copied types.LifecycleRecord
	if ok {
		record.Stage = types.StageCleanedUp
		copied = *record
		delete(m.records, signalID)
	}
	purgers := m.purgers
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, purge := range purgers {
		purge(ctx, copied)
	}
}

// Start runs the sweep loops until ctx is cancelled
func (m *Manager) Start(ctx context.Context) {
	go func() {
		light := time.NewTicker(m.lightEvery)
		deep := time.NewTicker(m.deepEvery)
		defer light.Stop()
		defer deep.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-light.C:
				m.LightSweep(ctx)
			case <-deep.C:
				m.DeepSweep(ctx)
			}
		}
	}()
}

// SetClock overrides the time source, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
