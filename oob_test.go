package rist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOOBQueueDrainReturnsInOrder(t *testing.T) {
	q := newOOBQueue(4)
	q.push("peerA", []byte("1"))
	q.push("peerA", []byte("2"))
	q.push("peerB", []byte("x"))

	a := q.drain("peerA")
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, a)

	// Draining empties the queue for that peer but leaves others intact.
	assert.Nil(t, q.drain("peerA"))
	b := q.drain("peerB")
	assert.Equal(t, [][]byte{[]byte("x")}, b)
}

func TestOOBQueueDropsOldestOnOverflow(t *testing.T) {
	q := newOOBQueue(2)
	q.push("peerA", []byte("1"))
	q.push("peerA", []byte("2"))
	q.push("peerA", []byte("3"))

	got := q.drain("peerA")
	assert.Equal(t, [][]byte{[]byte("2"), []byte("3")}, got)
}

func TestOOBQueueDrainUnknownPeerReturnsNil(t *testing.T) {
	q := newOOBQueue(4)
	assert.Nil(t, q.drain("nobody"))
}
