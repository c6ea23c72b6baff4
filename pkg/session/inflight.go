package session

import (
	"time"

	"github.com/google/btree"

	"github.com/skycoin/skyarena/pkg/message"
)

// Pending is a reliable message awaiting acknowledgment.
type Pending struct {
	Index   uint32
	Message message.ReliableMessage
	SentAt  time.Time
	Retries int
}

type pendingItem struct {
	sentAt int64
	index  uint32
}

func (a pendingItem) Less(b btree.Item) bool {
	o := b.(pendingItem)
	if a.sentAt != o.sentAt {
		return a.sentAt < o.sentAt
	}
	return a.index < o.index
}

// Inflight is the table of reliable messages sent to one peer and not yet
// acknowledged, keyed by Index and ordered by send time.
// It is owned by the tick goroutine and is not safe for concurrent use.
type Inflight struct {
	pendings map[uint32]*Pending
	bySent   *btree.BTree
}

// NewInflight creates an empty table.
func NewInflight() *Inflight {
	return &Inflight{
		pendings: make(map[uint32]*Pending),
		bySent:   btree.New(2),
	}
}

// Add retains msg under index. An existing entry with the same index is replaced.
func (f *Inflight) Add(index uint32, msg message.ReliableMessage, sentAt time.Time) {
	if old, ok := f.pendings[index]; ok {
		f.bySent.Delete(pendingItem{sentAt: old.SentAt.UnixNano(), index: index})
	}
	f.pendings[index] = &Pending{Index: index, Message: msg, SentAt: sentAt}
	f.bySent.ReplaceOrInsert(pendingItem{sentAt: sentAt.UnixNano(), index: index})
}

// Ack removes the entry for index. The returned bool is false when no such
// entry exists, e.g. for a duplicate acknowledgment.
func (f *Inflight) Ack(index uint32) (*Pending, bool) {
	p, ok := f.pendings[index]
	if !ok {
		return nil, false
	}
	delete(f.pendings, index)
	f.bySent.Delete(pendingItem{sentAt: p.SentAt.UnixNano(), index: index})
	return p, true
}

// Get returns the entry for index.
func (f *Inflight) Get(index uint32) (*Pending, bool) {
	p, ok := f.pendings[index]
	return p, ok
}

// Due returns the entries sent at least interval before now, oldest first.
func (f *Inflight) Due(now time.Time, interval time.Duration) []*Pending {
	var due []*Pending
	limit := pendingItem{sentAt: now.Add(-interval).UnixNano() + 1}
	f.bySent.AscendLessThan(limit, func(i btree.Item) bool {
		if p, ok := f.pendings[i.(pendingItem).index]; ok {
			due = append(due, p)
		}
		return true
	})
	return due
}

// Touch records a retransmission of index at now.
func (f *Inflight) Touch(index uint32, now time.Time) {
	p, ok := f.pendings[index]
	if !ok {
		return
	}
	f.bySent.Delete(pendingItem{sentAt: p.SentAt.UnixNano(), index: index})
	p.SentAt = now
	p.Retries++
	f.bySent.ReplaceOrInsert(pendingItem{sentAt: now.UnixNano(), index: index})
}

// Len returns the number of unacknowledged messages.
func (f *Inflight) Len() int { return len(f.pendings) }

// Clear drops every entry.
func (f *Inflight) Clear() {
	f.pendings = make(map[uint32]*Pending)
	f.bySent.Clear(false)
}
