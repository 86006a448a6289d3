// Package cachemanager implements the CacheManager state machine (spec
// §4.5): a single mutex-guarded state serializing refresh, periodic
// update, and clear-cache, with pending-action coalescing.
//
// Per spec §9 ("the five-state pattern ... should be implemented as a
// single function over (state, input) -> (state, action) rather than a
// class hierarchy"), the transition table lives in transition() as a pure
// function; Manager is the thin driver around it that actually launches
// work and owns the mutex.
package cachemanager

import (
	"context"
	"sync"
	"time"

	"github.com/azuredevops/cachesync/internal/dataupdate"
	"github.com/azuredevops/cachesync/internal/eventbus"
	"github.com/azuredevops/cachesync/internal/updater"
)

// State is one of the five CacheManager states (spec §4.5).
type State int

const (
	Idle State = iota
	Refreshing
	PeriodicUpdating
	PendingRefresh
	PendingClearCache
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Refreshing:
		return "Refreshing"
	case PeriodicUpdating:
		return "PeriodicUpdating"
	case PendingRefresh:
		return "PendingRefresh"
	case PendingClearCache:
		return "PendingClearCache"
	default:
		return "Unknown"
	}
}

// inputKind identifies which of the four CacheManager inputs fired.
type inputKind int

const (
	inputRefresh inputKind = iota
	inputPeriodicUpdate
	inputClearCache
	inputHandleUpdate
)

// input bundles an inputKind with the payload relevant to it.
type input struct {
	kind   inputKind
	params *updater.Search // for inputRefresh
	event  *dataupdate.Event // for inputHandleUpdate
}

// action is what the driver must do as a side effect of a transition,
// after releasing the mutex (spec §5 "the long-running work is launched
// after the mutex is released").
type action int

const (
	actionNone action = iota
	actionCancelInFlight
	actionStartRefresh
	actionStartPeriodic
	actionStartPurge
	actionStartStashedRefresh
)

// transition is the pure (state, input) -> (state, action) function the
// spec calls for. It never touches I/O or the clock.
func transition(state State, in input) (State, action) {
	switch in.kind {
	case inputRefresh:
		switch state {
		case Idle:
			return Refreshing, actionStartRefresh
		case Refreshing, PeriodicUpdating:
			return PendingRefresh, actionCancelInFlight
		case PendingRefresh:
			return PendingRefresh, actionNone // replace stashed params, no new cancel
		case PendingClearCache:
			return PendingClearCache, actionNone // ignored
		}

	case inputPeriodicUpdate:
		if state == Idle {
			return PeriodicUpdating, actionStartPeriodic
		}
		return state, actionNone // ignored in every other state

	case inputClearCache:
		switch state {
		case Idle:
			return Idle, actionStartPurge
		case Refreshing, PeriodicUpdating, PendingRefresh:
			return PendingClearCache, actionCancelInFlight
		case PendingClearCache:
			return PendingClearCache, actionNone // replace
		}

	case inputHandleUpdate:
		switch state {
		case Refreshing, PeriodicUpdating:
			return Idle, actionNone
		case PendingRefresh:
			return Idle, actionStartStashedRefresh
		case PendingClearCache:
			return Idle, actionStartPurge
		case Idle:
			return Idle, actionNone // invalid per spec table; treated as a no-op
		}
	}
	return state, actionNone
}

// Manager drives the transition table: it owns the mutex, the cancellation
// token for the in-flight dispatch, and the stashed pending-refresh params.
type Manager struct {
	mu    sync.Mutex
	state State

	service *dataupdate.Service

	cancel         context.CancelFunc
	stashedRefresh *updater.Search

	periodicInterval time.Duration
	refreshCooldown  time.Duration

	ticker *time.Ticker
	stopCh chan struct{}

	OnUpdate *eventbus.Bus[OnUpdateEvent]

	discover func(ctx context.Context) ([]updater.Search, error)
	username string
}

// OnUpdateEvent is the public event the UI layer subscribes to (spec §4.5
// "OnUpdate(source, kind, params, ex?)").
type OnUpdateEvent struct {
	Kind   dataupdate.EventKind
	Search *updater.Search
	Err    error
}

// Config carries the tunables surfaced in spec §6.
type Config struct {
	PeriodicInterval time.Duration
	RefreshCooldown  time.Duration
}

// DefaultConfig returns the spec's default timing knobs.
func DefaultConfig() Config {
	return Config{PeriodicInterval: 10 * time.Minute, RefreshCooldown: 3 * time.Minute}
}

// New constructs a Manager. discover resolves the full search set for a
// periodic All cycle (spec §4.4 DiscoverAllSearches), re-evaluated on
// every tick since persisted definitions can change between cycles.
func New(service *dataupdate.Service, cfg Config, discover func(ctx context.Context) ([]updater.Search, error), username string) *Manager {
	return &Manager{
		state:            Idle,
		service:          service,
		periodicInterval: cfg.PeriodicInterval,
		refreshCooldown:  cfg.RefreshCooldown,
		OnUpdate:         eventbus.New[OnUpdateEvent](),
		discover:         discover,
		username:         username,
	}
}

// Start begins the periodic timer (spec §6 "periodicInterval = 10 min,
// cold start included").
func (m *Manager) Start() {
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		return
	}
	m.ticker = time.NewTicker(m.periodicInterval)
	m.stopCh = make(chan struct{})
	ticker, stopCh := m.ticker, m.stopCh
	m.mu.Unlock()

	go func() {
		m.PeriodicUpdate()
		for {
			select {
			case <-ticker.C:
				m.PeriodicUpdate()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic timer; an in-flight dispatch is left to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
		m.ticker, m.stopCh = nil, nil
	}
}

// Refresh requests a sync of one search, subject to cooldown and state
// coalescing (spec §4.5 refresh(p) row).
func (m *Manager) Refresh(ctx context.Context, search updater.Search) {
	if stale, err := m.service.IsNewOrStaleData(ctx, search, m.refreshCooldown); err == nil && !stale {
		return // cooldown: not-stale refresh is a no-op (spec §6)
	}

	m.mu.Lock()
	next, act := transition(m.state, input{kind: inputRefresh, params: &search})
	prevCancel := m.cancel
	m.state = next
	if act == actionCancelInFlight {
		m.stashedRefresh = &search
	}
	if next == PendingRefresh && act == actionNone {
		m.stashedRefresh = &search // replace stashed params while already pending
	}
	m.mu.Unlock()

	switch act {
	case actionStartRefresh:
		m.launchRefresh(search)
	case actionCancelInFlight:
		if prevCancel != nil {
			prevCancel()
		}
	}
}

// PeriodicUpdate fires the timer-triggered All refresh (spec §4.5
// periodicUpdate() row: ignored unless Idle).
func (m *Manager) PeriodicUpdate() {
	m.mu.Lock()
	next, act := transition(m.state, input{kind: inputPeriodicUpdate})
	m.state = next
	m.mu.Unlock()

	if act == actionStartPeriodic {
		m.launchPeriodic()
	}
}

// ClearCache requests the cache be purged, per the sign-out path (spec
// §4.5 clearCache() row, §8 scenario 5).
func (m *Manager) ClearCache(ctx context.Context) {
	m.mu.Lock()
	next, act := transition(m.state, input{kind: inputClearCache})
	prevCancel := m.cancel
	m.state = next
	m.mu.Unlock()

	switch act {
	case actionStartPurge:
		m.launchPurge(ctx)
	case actionCancelInFlight:
		if prevCancel != nil {
			prevCancel()
		}
	}
}

// handleUpdate is invoked once, from the dataupdate.Service bus, for every
// dispatch's terminal event; it drives the "return to Idle, then drain
// pending" row of the transition table.
func (m *Manager) handleUpdate(ev dataupdate.Event) {
	uiEvent := OnUpdateEvent{Kind: ev.Kind, Err: ev.Err}
	if ev.Search.Kind != "" {
		s := ev.Search
		uiEvent.Search = &s
	}

	m.mu.Lock()
	next, act := transition(m.state, input{kind: inputHandleUpdate, event: &ev})
	m.state = next
	m.cancel = nil
	var stashed *updater.Search
	if act == actionStartStashedRefresh {
		stashed = m.stashedRefresh
		m.stashedRefresh = nil
	}
	m.mu.Unlock()

	m.OnUpdate.Publish(uiEvent)

	switch act {
	case actionStartStashedRefresh:
		if stashed != nil {
			m.launchRefresh(*stashed)
		}
	case actionStartPurge:
		m.launchPurge(context.Background())
	}
}

func (m *Manager) launchRefresh(search updater.Search) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.service.Bus.SubscribeOnce(m.handleUpdate)
	go func() {
		_ = m.service.Dispatch(ctx, kindFor(search), search, m.username)
	}()
}

func (m *Manager) launchPeriodic() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.service.Bus.SubscribeOnce(m.handleUpdate)
	go func() {
		searches, err := m.discover(ctx)
		if err != nil {
			m.service.Bus.Publish(dataupdate.Event{Kind: dataupdate.EventError, UpdateKind: dataupdate.KindAll, Err: err})
			return
		}
		_ = m.service.All(ctx, m.username, searches)
	}()
}

func (m *Manager) launchPurge(ctx context.Context) {
	go func() {
		err := m.service.PurgeAllData(ctx)
		kind := dataupdate.EventSuccess
		if err != nil {
			kind = dataupdate.EventError
		}
		m.handleUpdate(dataupdate.Event{Kind: kind, UpdateKind: dataupdate.KindAll, Err: err})
	}()
}

func kindFor(s updater.Search) dataupdate.UpdateKind {
	switch s.Kind {
	case updater.KindQuery:
		return dataupdate.KindQuery
	case updater.KindPullRequests:
		return dataupdate.KindPullRequests
	case updater.KindPipeline:
		return dataupdate.KindPipeline
	case updater.KindMyWorkItems:
		return dataupdate.KindMyWorkItems
	default:
		return ""
	}
}
