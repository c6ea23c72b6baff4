// Package userinfo caches application-defined information about peers and
// decides when it should be refreshed.
package userinfo

import (
	"sort"
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyarena/pkg/wire"
)

var log = logging.MustGetLogger("userinfo")

// Record is a cached, possibly stale, user info payload.
type Record struct {
	Endpoint    wire.Endpoint `json:"endpoint"`
	Info        []byte        `json:"info"`
	IsServer    bool          `json:"is_server"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	RequestedAt time.Time     `json:"-"`
}

// Stale reports whether the record is older than maxAge.
func (r *Record) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.RefreshedAt) > maxAge
}

// known is false for placeholders created by a request that was never answered.
func (r *Record) known() bool { return !r.RefreshedAt.IsZero() }

// Directory caches records by endpoint and keeps track of peers waiting for
// a relayed record. It writes through to a Store.
type Directory struct {
	records map[wire.Endpoint]*Record
	waiters map[wire.Endpoint]map[wire.Endpoint]struct{}
	store   Store
	mu      sync.RWMutex
}

// NewDirectory creates a Directory backed by store. A nil store keeps
// records in memory only.
func NewDirectory(store Store) *Directory {
	if store == nil {
		store = InMemoryStore()
	}
	return &Directory{
		records: make(map[wire.Endpoint]*Record),
		waiters: make(map[wire.Endpoint]map[wire.Endpoint]struct{}),
		store:   store,
	}
}

// Load fills the directory from its store.
func (d *Directory) Load() error {
	recs, err := d.store.Load()
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, r := range recs {
		d.records[r.Endpoint] = r
	}
	d.mu.Unlock()
	return nil
}

// SetStore replaces the backing store.
func (d *Directory) SetStore(store Store) {
	d.mu.Lock()
	d.store = store
	d.mu.Unlock()
}

// Put stores info for ep, marking it fresh at now.
func (d *Directory) Put(ep wire.Endpoint, info []byte, isServer bool, now time.Time) *Record {
	d.mu.Lock()
	r, ok := d.records[ep]
	if !ok {
		r = &Record{Endpoint: ep}
		d.records[ep] = r
	}
	r.Info = info
	r.IsServer = isServer
	r.RefreshedAt = now
	out := *r
	store := d.store
	d.mu.Unlock()

	if err := store.Save(&out); err != nil {
		log.WithError(err).Warnf("Failed to persist user info of %s", ep)
	}
	return &out
}

// Get returns a copy of the record for ep.
func (d *Directory) Get(ep wire.Endpoint) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.records[ep]
	if !ok || !r.known() {
		return Record{}, false
	}
	return *r, true
}

// Server returns the record flagged as describing the server.
func (d *Directory) Server() (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, r := range d.records {
		if r.IsServer && r.known() {
			return *r, true
		}
	}
	return Record{}, false
}

// Remove forgets ep.
func (d *Directory) Remove(ep wire.Endpoint) {
	d.mu.Lock()
	delete(d.records, ep)
	delete(d.waiters, ep)
	for _, w := range d.waiters {
		delete(w, ep)
	}
	store := d.store
	d.mu.Unlock()

	if err := store.Delete(ep); err != nil {
		log.WithError(err).Warnf("Failed to delete user info of %s", ep)
	}
}

// All returns copies of every record, ordered by endpoint.
func (d *Directory) All() []Record {
	d.mu.RLock()
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		if r.known() {
			out = append(out, *r)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.String() < out[j].Endpoint.String() })
	return out
}

// Len returns the number of known records.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, r := range d.records {
		if r.known() {
			n++
		}
	}
	return n
}

// Clear forgets every record and waiter without touching the store.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.records = make(map[wire.Endpoint]*Record)
	d.waiters = make(map[wire.Endpoint]map[wire.Endpoint]struct{})
	d.mu.Unlock()
}

// MarkRequested records that a refresh of ep was requested at now.
// It returns false if a request was already issued within minInterval.
func (d *Directory) MarkRequested(ep wire.Endpoint, now time.Time, minInterval time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.records[ep]
	if !ok {
		r = &Record{Endpoint: ep}
		d.records[ep] = r
	}
	if !r.RequestedAt.IsZero() && now.Sub(r.RequestedAt) < minInterval {
		return false
	}
	r.RequestedAt = now
	return true
}

// DueForRefresh returns the endpoints whose records are stale beyond maxAge
// and were not requested within minInterval, and marks them requested.
// If keep is non-nil, only endpoints for which it returns true are considered.
func (d *Directory) DueForRefresh(now time.Time, maxAge, minInterval time.Duration, keep func(wire.Endpoint) bool) []wire.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []wire.Endpoint
	for ep, r := range d.records {
		if !r.Stale(now, maxAge) {
			continue
		}
		if !r.RequestedAt.IsZero() && now.Sub(r.RequestedAt) < minInterval {
			continue
		}
		if keep != nil && !keep(ep) {
			continue
		}
		r.RequestedAt = now
		due = append(due, ep)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].String() < due[j].String() })
	return due
}

// AddWaiter registers requester as waiting for the record of target.
func (d *Directory) AddWaiter(target, requester wire.Endpoint) {
	d.mu.Lock()
	w, ok := d.waiters[target]
	if !ok {
		w = make(map[wire.Endpoint]struct{})
		d.waiters[target] = w
	}
	w[requester] = struct{}{}
	d.mu.Unlock()
}

// TakeWaiters returns and forgets the peers waiting for target.
func (d *Directory) TakeWaiters(target wire.Endpoint) []wire.Endpoint {
	d.mu.Lock()
	w := d.waiters[target]
	delete(d.waiters, target)
	d.mu.Unlock()

	out := make([]wire.Endpoint, 0, len(w))
	for ep := range w {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
