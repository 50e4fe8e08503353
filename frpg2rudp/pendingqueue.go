package frpg2rudp

import (
	"github.com/google/btree"

	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

// pendingItem adapts a ReliablePacket into a github.com/google/btree.Item,
// ordered by its header's LocalAck. The two operations the reorder buffer
// needs, duplicate membership test and ordered-minimum drain, are both
// O(log n) on a BTree.
type pendingItem struct {
	packet ReliablePacket
}

// Less orders by circular sequence position rather than raw integer value,
// so a queue holding entries on both sides of the 24-bit wraparound still
// drains in protocol order. The queued entries always span far less than
// half the sequence space, which is the precondition wire.SeqBefore needs.
func (p pendingItem) Less(than btree.Item) bool {
	return wire.SeqBefore(p.packet.Header.LocalAck, than.(pendingItem).packet.Header.LocalAck)
}

// pendingQueue holds sequenced packets received ahead of
// remoteSequenceIndex until the gap closes.
type pendingQueue struct {
	tree *btree.BTree
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{tree: btree.New(8)}
}

// Contains reports whether a packet with this LocalAck is already queued.
func (q *pendingQueue) Contains(localAck uint32) bool {
	return q.tree.Has(pendingItem{ReliablePacket{Header: wire.Header{LocalAck: localAck}}})
}

// Insert adds a packet to the queue. Callers must check Contains first;
// Insert silently overwrites on a duplicate key.
func (q *pendingQueue) Insert(pkt ReliablePacket) {
	q.tree.ReplaceOrInsert(pendingItem{pkt})
}

// Len reports the number of packets currently queued.
func (q *pendingQueue) Len() int {
	return q.tree.Len()
}

// PeekMin returns the packet with the smallest LocalAck, if any.
func (q *pendingQueue) PeekMin() (ReliablePacket, bool) {
	item := q.tree.Min()
	if item == nil {
		return ReliablePacket{}, false
	}
	return item.(pendingItem).packet, true
}

// PopMin removes and returns the packet with the smallest LocalAck.
func (q *pendingQueue) PopMin() (ReliablePacket, bool) {
	item := q.tree.DeleteMin()
	if item == nil {
		return ReliablePacket{}, false
	}
	return item.(pendingItem).packet, true
}
