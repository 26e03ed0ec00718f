package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/algebra"
)

func TestSubscriberReceivesPublishedChange(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	conn := algebra.ConnectionId{1}
	sub := b.Subscribe(conn)

	key := algebra.InlineDataKey([]byte("row-bytes"))
	txn := algebra.Transaction{Writes: []algebra.Write{
		{Op: algebra.OpInsert, Table: algebra.TableId(100), Key: key},
	}}
	rows := map[algebra.DataKey][]byte{key: []byte("row-bytes")}

	b.PublishCommit(42, txn, rows)

	select {
	case change := <-sub:
		require.Equal(t, algebra.TableId(100), change.Table)
		require.Equal(t, algebra.OpInsert, change.Op)
		require.Equal(t, uint64(42), change.CommitOffset)
		require.Equal(t, []byte("row-bytes"), change.Row)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for table change")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	conn := algebra.ConnectionId{2}
	sub := b.Subscribe(conn)
	b.Unsubscribe(conn)

	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	require.False(t, open)
}

func TestSubscriberCountTracksActiveSubscriptions(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	require.Equal(t, 0, b.SubscriberCount())

	connA := algebra.ConnectionId{3}
	connB := algebra.ConnectionId{4}
	b.Subscribe(connA)
	b.Subscribe(connB)
	require.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(connA)
	require.Equal(t, 1, b.SubscriberCount())
}

func TestPublishCommitFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	connA := algebra.ConnectionId{5}
	connB := algebra.ConnectionId{6}
	subA := b.Subscribe(connA)
	subB := b.Subscribe(connB)

	txn := algebra.Transaction{Writes: []algebra.Write{
		{Op: algebra.OpDelete, Table: algebra.TableId(7), Key: algebra.InlineDataKey([]byte("k"))},
	}}
	b.PublishCommit(1, txn, nil)

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case change := <-sub:
			require.Equal(t, algebra.OpDelete, change.Op)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}
