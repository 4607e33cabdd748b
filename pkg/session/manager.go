package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Manager tracks the available descriptors and the current model id.
type Manager struct {
	baseCtx context.Context

	mu          sync.Mutex
	descriptors []Descriptor
	currentID   string
	notifiedID  string
	open        bool
	listeners   []func(Descriptor)

	inits singleflight.Group
	wg    sync.WaitGroup
}

// NewManager returns a manager whose Init calls run under baseCtx.
func NewManager(baseCtx context.Context) *Manager {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Manager{baseCtx: baseCtx}
}

// SetDescriptors replaces the descriptor list and re-validates the selection.
func (m *Manager) SetDescriptors(ds []Descriptor) {
	m.mu.Lock()
	m.descriptors = append([]Descriptor(nil), ds...)
	m.mu.Unlock()
	m.reconcile()
}

// Select requests modelID as the current selection. An unknown id is corrected to the first
// available descriptor.
func (m *Manager) Select(modelID string) {
	m.mu.Lock()
	m.currentID = modelID
	m.mu.Unlock()
	m.reconcile()
}

// SetOpen records widget visibility. Opening may trigger initialization of the current session.
func (m *Manager) SetOpen(open bool) {
	m.mu.Lock()
	m.open = open
	m.mu.Unlock()
	m.reconcile()
}

// CurrentID returns the selected model id, which may be empty while no descriptor exists.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Current returns the descriptor matching the current model id.
func (m *Manager) Current() (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := findLocked(m.descriptors, m.currentID)
	return d, ok
}

func (m *Manager) Descriptors() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Descriptor(nil), m.descriptors...)
}

// OnSelect registers a callback fired when the effective selection changes.
func (m *Manager) OnSelect(fn func(Descriptor)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Wait blocks until every Init started by the manager has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) reconcile() {
	m.mu.Lock()
	prevID := m.currentID
	if len(m.descriptors) > 0 {
		if _, ok := findLocked(m.descriptors, m.currentID); !ok {
			if prevID != "" {
				log.Debug().Str("component", "session").Str("model_id", prevID).
					Str("corrected_to", m.descriptors[0].ModelID).Msg("current model not available, correcting")
			}
			m.currentID = m.descriptors[0].ModelID
		}
	}
	cur, ok := findLocked(m.descriptors, m.currentID)
	open := m.open
	changed := ok && cur.ModelID != m.notifiedID
	if changed {
		m.notifiedID = cur.ModelID
	}
	listeners := append([]func(Descriptor){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(cur)
		}
	}
	if ok && open {
		m.ensureInit(cur)
	}
}

func (m *Manager) ensureInit(d Descriptor) {
	s := d.Session
	if s == nil || s.IsInitialized() || s.IsInitializing() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, err, _ := m.inits.Do(d.ModelID, func() (interface{}, error) {
			if s.IsInitialized() || s.IsInitializing() {
				return nil, nil
			}
			log.Debug().Str("component", "session").Str("model_id", d.ModelID).Msg("initializing session")
			return nil, s.Init(m.baseCtx)
		})
		if err != nil {
			log.Error().Err(err).Str("component", "session").Str("model_id", d.ModelID).Msg("session init failed")
		}
	}()
}

func findLocked(ds []Descriptor, id string) (Descriptor, bool) {
	if id == "" {
		return Descriptor{}, false
	}
	for _, d := range ds {
		if d.ModelID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
