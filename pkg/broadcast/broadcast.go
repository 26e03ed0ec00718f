// Package broadcast fans out committed table changes to subscribed
// connections. It carries the "table changed" signal only: query planning
// and incremental view maintenance over that signal are the subscriber's
// concern, not this package's.
package broadcast

import (
	"sync"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/metrics"
)

// TableChange describes one write from a single committed transaction.
// Row is populated when the write's DataKey carries its bytes inline;
// for hash-addressed rows the subscriber resolves Key.Hash against the
// content store itself.
type TableChange struct {
	Table        algebra.TableId
	Op           algebra.Operation
	Key          algebra.DataKey
	Row          []byte
	CommitOffset uint64
}

// Subscriber is a channel a connection reads table changes from.
type Subscriber chan *TableChange

// Broker distributes committed table changes to subscribed connections.
// One Broker is owned by exactly one replica context.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[algebra.ConnectionId]Subscriber
	changeCh    chan *TableChange
	stopCh      chan struct{}
}

// NewBroker creates a Broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[algebra.ConnectionId]Subscriber),
		changeCh:    make(chan *TableChange, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution and closes every subscriber channel.
func (b *Broker) Stop() {
	close(b.stopCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub)
		delete(b.subscribers, id)
	}
}

// Subscribe registers a connection and returns the channel it should read
// table changes from. The channel is buffered; a slow reader drops changes
// rather than blocking the broadcaster.
func (b *Broker) Subscribe(conn algebra.ConnectionId) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 128)
	b.subscribers[conn] = sub
	return sub
}

// Unsubscribe removes a connection's subscription and closes its channel.
func (b *Broker) Unsubscribe(conn algebra.ConnectionId) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[conn]; ok {
		close(sub)
		delete(b.subscribers, conn)
	}
}

// PublishCommit fans out every write in a committed transaction as a
// TableChange. Called by the replica immediately after a successful
// Tx.Commit.
func (b *Broker) PublishCommit(offset uint64, txn algebra.Transaction, rows map[algebra.DataKey][]byte) {
	for _, w := range txn.Writes {
		change := &TableChange{
			Table:        w.Table,
			Op:           w.Op,
			Key:          w.Key,
			Row:          rows[w.Key],
			CommitOffset: offset,
		}
		select {
		case b.changeCh <- change:
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) run() {
	for {
		select {
		case change := <-b.changeCh:
			b.deliver(change)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(change *TableChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub <- change:
		default:
			metrics.BroadcastDroppedTotal.Inc()
		}
	}
}

// SubscriberCount reports the number of connections currently subscribed.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
