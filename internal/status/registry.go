// Package status holds the process-wide progress state shared by the
// scheduler, its workers and the operator API.
package status

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/fedisync/internal/feed"
)

// Idle is the percent reported between rounds.
const Idle = -1

// Round is a snapshot of the current round.
type Round struct {
	Percent  int64     `json:"percent"`
	Total    int64     `json:"total"`
	Next     time.Time `json:"next"`
	Started  time.Time `json:"started,omitempty"`
	Running  bool      `json:"running"`
	Progress int64     `json:"progress_percent"`
}

// Scan is a snapshot of one community being processed.
type Scan struct {
	Community feed.Community `json:"community"`
	Started   time.Time      `json:"started"`
}

type scanState struct {
	community feed.Community
	started   time.Time
	cancel    context.CancelFunc
}

// Registry tracks the round state and the active community scans. The zero
// value is not usable; call New.
type Registry struct {
	percent atomic.Int64

	mu          sync.RWMutex
	total       int64
	next        time.Time
	started     time.Time
	cancelRound context.CancelFunc

	scans sync.Map // origin URL -> *scanState

	roundObservers observers
	scanObservers  observers
}

// New returns an idle Registry.
func New() *Registry {
	r := &Registry{
		roundObservers: observers{fns: make(map[uuid.UUID]func())},
		scanObservers:  observers{fns: make(map[uuid.UUID]func())},
	}
	r.percent.Store(Idle)
	return r
}

// BeginRound resets the round to 0 of total and returns the round scope
// derived from parent.
func (r *Registry) BeginRound(parent context.Context, total int, now time.Time) context.Context {
	ctx := r.replaceRound(parent, func() {
		r.total = int64(total)
		r.next = now
		r.started = now
	})
	r.percent.Store(0)
	r.roundObservers.notify()
	return ctx
}

// BeginCooldown resets the round to idle with the next round due at next
// and returns the scope that ends the cooldown early when canceled.
func (r *Registry) BeginCooldown(parent context.Context, next time.Time) context.Context {
	ctx := r.replaceRound(parent, func() {
		r.total = 0
		r.next = next
		r.started = time.Time{}
	})
	r.percent.Store(Idle)
	r.roundObservers.notify()
	return ctx
}

func (r *Registry) replaceRound(parent context.Context, reset func()) context.Context {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	previous := r.cancelRound
	r.cancelRound = cancel
	reset()
	r.mu.Unlock()
	if previous != nil {
		previous()
	}
	return ctx
}

// IncrementPercent records one finished community and returns the new count.
func (r *Registry) IncrementPercent() int64 {
	n := r.percent.Add(1)
	r.roundObservers.notify()
	return n
}

// StopRound cancels the current round scope. During a cooldown this ends
// the wait early.
func (r *Registry) StopRound() {
	r.mu.RLock()
	cancel := r.cancelRound
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Round returns a snapshot of the round state.
func (r *Registry) Round() Round {
	percent := r.percent.Load()
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Round{
		Percent: percent,
		Total:   r.total,
		Next:    r.next,
		Started: r.started,
		Running: percent != Idle,
	}
	if snap.Running && r.total > 0 {
		snap.Progress = percent * 100 / r.total
	}
	return snap
}

// StartScan registers community as active and returns its scope derived
// from parent. It returns false when the community is already active.
func (r *Registry) StartScan(parent context.Context, community feed.Community, now time.Time) (context.Context, bool) {
	ctx, cancel := context.WithCancel(parent)
	state := &scanState{community: community, started: now, cancel: cancel}
	if _, loaded := r.scans.LoadOrStore(community.OriginURL, state); loaded {
		cancel()
		return ctx, false
	}
	r.scanObservers.notify()
	return ctx, true
}

// FinishScan removes community and releases its scope.
func (r *Registry) FinishScan(community feed.Community) {
	value, ok := r.scans.LoadAndDelete(community.OriginURL)
	if !ok {
		return
	}
	value.(*scanState).cancel()
	r.scanObservers.notify()
}

// StopScan cancels the scope of the active community with originURL. It
// reports whether such a community was active.
func (r *Registry) StopScan(originURL string) bool {
	value, ok := r.scans.Load(originURL)
	if !ok {
		return false
	}
	value.(*scanState).cancel()
	return true
}

// Scans returns the active communities ordered by name.
func (r *Registry) Scans() []Scan {
	out := []Scan{}
	r.scans.Range(func(_, value any) bool {
		state := value.(*scanState)
		out = append(out, Scan{Community: state.community, Started: state.started})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Community.Name < out[j].Community.Name
	})
	return out
}

// OnRound registers fn to run after every round state change.
func (r *Registry) OnRound(fn func()) uuid.UUID {
	return r.roundObservers.add(fn)
}

// OnScans registers fn to run after every change of the active scans.
func (r *Registry) OnScans(fn func()) uuid.UUID {
	return r.scanObservers.add(fn)
}

// Unsubscribe removes an observer registered with OnRound or OnScans.
func (r *Registry) Unsubscribe(id uuid.UUID) {
	r.roundObservers.remove(id)
	r.scanObservers.remove(id)
}

type observers struct {
	mu  sync.RWMutex
	fns map[uuid.UUID]func()
}

func (o *observers) add(fn func()) uuid.UUID {
	id := uuid.New()
	o.mu.Lock()
	o.fns[id] = fn
	o.mu.Unlock()
	return id
}

func (o *observers) remove(id uuid.UUID) {
	o.mu.Lock()
	delete(o.fns, id)
	o.mu.Unlock()
}

// notify runs a snapshot of the observers outside the lock so callbacks may
// subscribe or unsubscribe.
func (o *observers) notify() {
	o.mu.RLock()
	snapshot := make([]func(), 0, len(o.fns))
	for _, fn := range o.fns {
		snapshot = append(snapshot, fn)
	}
	o.mu.RUnlock()
	for _, fn := range snapshot {
		fn()
	}
}
