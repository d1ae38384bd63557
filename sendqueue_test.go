package rist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendQueuePushDrainInOrder(t *testing.T) {
	q := newSendQueue(4)
	assert.True(t, q.push(enqueueRequest{flowID: 1, payload: []byte("a")}))
	assert.True(t, q.push(enqueueRequest{flowID: 1, payload: []byte("b")}))

	got := q.drain()
	require := assert.New(t)
	require.Len(got, 2)
	require.Equal([]byte("a"), got[0].payload)
	require.Equal([]byte("b"), got[1].payload)

	// Draining empties the queue.
	assert.Nil(t, q.drain())
}

func TestSendQueueRejectsPushPastCapacity(t *testing.T) {
	q := newSendQueue(2)
	assert.True(t, q.push(enqueueRequest{payload: []byte("1")}))
	assert.True(t, q.push(enqueueRequest{payload: []byte("2")}))
	assert.False(t, q.push(enqueueRequest{payload: []byte("3")}))

	got := q.drain()
	assert.Len(t, got, 2)
}
