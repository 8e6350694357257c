package shmring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPagePair(t *testing.T, slotSize, numSlots int) (front, back *SharedRing) {
	page := make([]byte, HeaderSize+slotSize*numSlots)
	front, err := NewSharedRing(page, slotSize)
	require.NoError(t, err)
	back, err = NewSharedRing(page, slotSize)
	require.NoError(t, err)
	return front, back
}

func TestNewSharedRingRejectsNonPowerOfTwoSlots(t *testing.T) {
	page := make([]byte, HeaderSize+3*16)
	_, err := NewSharedRing(page, 16)
	assert.Error(t, err)
}

func TestNewSharedRingRejectsTooSmallPage(t *testing.T) {
	_, err := NewSharedRing(make([]byte, 10), 16)
	assert.Error(t, err)
}

func TestPushAndFetchRequestRoundTrip(t *testing.T) {
	front, back := newPagePair(t, 16, 4)

	slot := make([]byte, 16)
	slot[0] = 0xAB
	_, err := front.PushRequest(slot)
	require.NoError(t, err)

	got, idx, ok := back.FetchRequest()
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, slot, got)

	_, _, ok = back.FetchRequest()
	assert.False(t, ok, "nothing else was published")
}

func TestResponseRoundTripNoDuplicateOrMissingIDs(t *testing.T) {
	front, back := newPagePair(t, 16, 8)

	ids := []uint64{1, 2, 3, 4, 5}
	for _, id := range ids {
		slot := make([]byte, 16)
		slot[0] = byte(id)
		_, err := front.PushRequest(slot)
		require.NoError(t, err)
	}

	seen := map[byte]bool{}
	for {
		reqSlot, _, ok := back.FetchRequest()
		if !ok {
			break
		}
		resp := make([]byte, 16)
		resp[0] = reqSlot[0] // echo the request's id byte back
		back.WriteResponse(resp)
	}

	for {
		rspSlot, _, ok := front.FetchResponse()
		if !ok {
			break
		}
		id := rspSlot[0]
		assert.False(t, seen[id], "response id %d seen twice", id)
		seen[id] = true
	}

	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.True(t, seen[byte(id)])
	}
}

func TestPushRequestWrongSize(t *testing.T) {
	front, _ := newPagePair(t, 16, 4)
	_, err := front.PushRequest(make([]byte, 8))
	assert.Error(t, err)
}

func TestMoreToDoReflectsUnconsumedRequests(t *testing.T) {
	front, back := newPagePair(t, 16, 8)

	_, err := front.PushRequest(make([]byte, 16))
	require.NoError(t, err)
	_, err = front.PushRequest(make([]byte, 16))
	require.NoError(t, err)

	_, _, ok := back.FetchRequest()
	require.True(t, ok)
	moreToDo, _ := back.WriteResponse(make([]byte, 16))
	assert.True(t, moreToDo, "a second request is still pending")

	_, _, ok = back.FetchRequest()
	require.True(t, ok)
	moreToDo, _ = back.WriteResponse(make([]byte, 16))
	assert.False(t, moreToDo, "both requests have now been drained")
}

// TestXenNotifyPolicy exercises the canonical Xen RING_PUSH_REQUESTS
// notify comparison against the boundary values from the spec's
// worked example with req_event=10: advancing req_prod from 5 to 12
// must notify (2 < 7); advancing from 11 to 12 must not (2 < 1 is
// false) — see DESIGN.md for why this resolves the example's
// self-contradictory prose in favor of the real Xen formula.
func TestXenNotifyPolicy(t *testing.T) {
	assert.True(t, xenShouldNotify(5, 12, 10))
	assert.False(t, xenShouldNotify(11, 12, 10))
	// old == new: nothing was published, so nothing to notify about.
	assert.False(t, xenShouldNotify(5, 5, 10))
}

func TestFinalCheckForResponsesArmsEventOnceDrained(t *testing.T) {
	front, back := newPagePair(t, 16, 8)

	_, err := front.PushRequest(make([]byte, 16))
	require.NoError(t, err)
	_, _, ok := back.FetchRequest()
	require.True(t, ok)
	back.WriteResponse(make([]byte, 16))

	_, _, ok = front.FetchResponse()
	require.True(t, ok)

	assert.False(t, front.FinalCheckForResponses())
}
