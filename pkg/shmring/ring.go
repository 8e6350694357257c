// Package shmring implements the lock-free single-producer/single-consumer
// ring that carries blkif request and response slots across a single
// memory-mapped page shared between a frontend and a backend domain.
// Four free-running 32-bit indices (req_prod, req_event, rsp_prod,
// rsp_event) gate visibility of the slot array; requests and responses
// share the same N-slot array, a response simply overwriting the slot
// its request occupied once the backend has consumed it.
//
// Index loads and stores go through sync/atomic, the same
// unsafe.Pointer-over-shared-bytes technique
// markrussinovich-grpc-go-shmem uses to map its ring header over raw
// mmapped memory, substituted here for plain atomic uint32 accessors
// since the header layout is four independent counters rather than one
// packed struct.
package shmring

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// HeaderSize is the fixed size of the four indices plus their trailing
// padding, before the slot array begins.
const HeaderSize = 80

const indicesSize = 16 // 4 * 4 bytes; the remaining 64 bytes of HeaderSize are padding

// SharedRing is one side's view of a shared page. A frontend and a
// backend each construct their own SharedRing over the same
// underlying bytes; the four header indices are the only state they
// actually share, everything else (reqCons, rspCons, the local
// producer counters) is private per side, per §4.2 and §5.
type SharedRing struct {
	page     []byte
	slotSize int
	numSlots uint32

	reqProdLocal uint32 // frontend-role: next request slot to publish
	reqCons      uint32 // backend-role: next request slot to consume

	rspProdLocal uint32 // backend-role: next response slot to publish
	rspCons      uint32 // frontend-role: next response slot to consume
}

// NewSharedRing wraps page (typically one mmapped 4 KiB page) as a
// ring of fixed-size slots, each large enough to hold one request
// (responses are smaller and reuse the same slot). numSlots is
// derived from the available space and must come out to a power of
// two, per §3.
func NewSharedRing(page []byte, slotSize int) (*SharedRing, error) {
	if len(page) <= HeaderSize {
		return nil, fmt.Errorf("shmring: page of %d bytes too small for an %d-byte header", len(page), HeaderSize)
	}
	if slotSize <= 0 {
		return nil, fmt.Errorf("shmring: invalid slot size %d", slotSize)
	}

	avail := len(page) - HeaderSize
	n := avail / slotSize
	if n == 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("shmring: %d slots of size %d does not divide into a positive power of two", n, slotSize)
	}

	r := &SharedRing{page: page, slotSize: slotSize, numSlots: uint32(n)}

	// A fresh page (all four indices still zero) is initialized the way
	// Xen's SHARED_RING_INIT does it: each side asks to be woken by the
	// first slot its peer publishes. Attaching to a page already in use
	// leaves the indices as they are.
	if atomic.LoadUint32(r.reqProdPtr()) == 0 && atomic.LoadUint32(r.reqEventPtr()) == 0 &&
		atomic.LoadUint32(r.rspProdPtr()) == 0 && atomic.LoadUint32(r.rspEventPtr()) == 0 {
		atomic.StoreUint32(r.reqEventPtr(), 1)
		atomic.StoreUint32(r.rspEventPtr(), 1)
	}

	return r, nil
}

// NumSlots returns the ring's slot count N.
func (r *SharedRing) NumSlots() uint32 { return r.numSlots }

func (r *SharedRing) slot(idx uint32) []byte {
	off := HeaderSize + int(idx%r.numSlots)*r.slotSize
	return r.page[off : off+r.slotSize]
}

func (r *SharedRing) reqProdPtr() *uint32  { return indexPtr(r.page, 0) }
func (r *SharedRing) reqEventPtr() *uint32 { return indexPtr(r.page, 4) }
func (r *SharedRing) rspProdPtr() *uint32  { return indexPtr(r.page, 8) }
func (r *SharedRing) rspEventPtr() *uint32 { return indexPtr(r.page, 12) }

func indexPtr(page []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&page[off]))
}

// xenShouldNotify implements the canonical Xen ring notify test: after
// a producer index advances from old to new, the peer should be woken
// iff its requested wake threshold (event) falls inside the freshly
// published range. Subtraction is unsigned and wraps, which is what
// makes this correct across a 32-bit index rollover.
func xenShouldNotify(old, newVal, event uint32) bool {
	return newVal-event < newVal-old
}

// PushRequest publishes one request slot (the frontend/producer
// role): it copies slot into the next free ring position, issues the
// write-then-publish sequence from §4.2, and reports whether the peer
// should be signalled.
func (r *SharedRing) PushRequest(slotBytes []byte) (notify bool, err error) {
	if len(slotBytes) != r.slotSize {
		return false, fmt.Errorf("shmring: request slot must be exactly %d bytes, got %d", r.slotSize, len(slotBytes))
	}

	idx := r.reqProdLocal
	copy(r.slot(idx), slotBytes) // write barrier precedes the index publish below
	newProd := idx + 1

	old := atomic.LoadUint32(r.reqProdPtr())
	atomic.StoreUint32(r.reqProdPtr(), newProd)
	r.reqProdLocal = newProd

	event := atomic.LoadUint32(r.reqEventPtr())
	return xenShouldNotify(old, newProd, event), nil
}

// FetchRequest returns the next unconsumed request slot (the
// backend/consumer role), or ok=false if the frontend has published
// nothing new. The read of req_prod acts as the read barrier gating
// visibility of the slot contents.
func (r *SharedRing) FetchRequest() (slotBytes []byte, idx uint32, ok bool) {
	prod := atomic.LoadUint32(r.reqProdPtr())
	if r.reqCons == prod {
		return nil, 0, false
	}
	idx = r.reqCons
	slotBytes = r.slot(idx)
	r.reqCons++
	return slotBytes, idx, true
}

// WriteResponse publishes one response slot at the backend's next
// response position, overwriting whichever request slot is there.
// After publishing, it runs the RING_FINAL_CHECK_FOR_REQUESTS sequence
// from §4.2/§4.4: if no more requests are visible, it tells the
// frontend where to wake the backend next (req_event), then re-checks
// req_prod once more to close the race against a request published in
// between. It returns whether the backend still has requests to
// drain (more_to_do) and whether the frontend should be signalled
// about the new response (notify).
func (r *SharedRing) WriteResponse(data []byte) (moreToDo, notify bool) {
	idx := r.rspProdLocal
	dst := r.slot(idx)
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, data)

	oldRspProd := atomic.LoadUint32(r.rspProdPtr())
	newRspProd := idx + 1
	atomic.StoreUint32(r.rspProdPtr(), newRspProd)
	r.rspProdLocal = newRspProd

	rspEvent := atomic.LoadUint32(r.rspEventPtr())
	notify = xenShouldNotify(oldRspProd, newRspProd, rspEvent)

	reqProd := atomic.LoadUint32(r.reqProdPtr())
	moreToDo = reqProd != r.reqCons
	if !moreToDo {
		atomic.StoreUint32(r.reqEventPtr(), r.reqCons+1)
		reqProd = atomic.LoadUint32(r.reqProdPtr())
		moreToDo = reqProd != r.reqCons
	}
	return moreToDo, notify
}

// FetchResponse returns the next unconsumed response slot (the
// frontend/consumer role), or ok=false if the backend has published
// nothing new.
func (r *SharedRing) FetchResponse() (slotBytes []byte, idx uint32, ok bool) {
	prod := atomic.LoadUint32(r.rspProdPtr())
	if r.rspCons == prod {
		return nil, 0, false
	}
	idx = r.rspCons
	slotBytes = r.slot(idx)
	r.rspCons++
	return slotBytes, idx, true
}

// FinalCheckForResponses is the frontend-side mirror of the backend's
// drain-and-rearm sequence in WriteResponse: once the frontend has no
// more visible responses, it asks the backend to notify it again at
// rsp_cons+1 and re-checks rsp_prod to close the same race.
func (r *SharedRing) FinalCheckForResponses() (moreToDo bool) {
	rspProd := atomic.LoadUint32(r.rspProdPtr())
	moreToDo = rspProd != r.rspCons
	if !moreToDo {
		atomic.StoreUint32(r.rspEventPtr(), r.rspCons+1)
		rspProd = atomic.LoadUint32(r.rspProdPtr())
		moreToDo = rspProd != r.rspCons
	}
	return moreToDo
}
