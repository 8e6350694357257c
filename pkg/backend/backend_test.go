package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djs55/vhddisk/pkg/blkif"
	"github.com/djs55/vhddisk/pkg/evtchn"
	"github.com/djs55/vhddisk/pkg/grant"
	"github.com/djs55/vhddisk/pkg/shmring"
)

const (
	ringRef  = 1
	pageSize = 4096
)

// fakeDevice is a tiny in-memory block device Ops implementation used
// to exercise the backend's dispatch logic without any real storage.
type fakeDevice struct {
	bytes []byte
	fail  bool
}

func newFakeDevice(sectors int) *fakeDevice {
	return &fakeDevice{bytes: make([]byte, sectors*512)}
}

func (d *fakeDevice) Read(ctx context.Context, page []byte, sectorInDevice uint64, first, last uint8) error {
	if d.fail {
		return assert.AnError
	}
	off := sectorInDevice * 512
	n := (int(last) - int(first) + 1) * 512
	copy(page[int(first)*512:int(first)*512+n], d.bytes[off:int(off)+n])
	return nil
}

func (d *fakeDevice) Write(ctx context.Context, page []byte, sectorInDevice uint64, first, last uint8) error {
	if d.fail {
		return assert.AnError
	}
	off := sectorInDevice * 512
	n := (int(last) - int(first) + 1) * 512
	copy(d.bytes[off:int(off)+n], page[int(first)*512:int(first)*512+n])
	return nil
}

// testHarness wires together a ring, a grant table, and a loopback
// event-channel pair the way a real frontend and this package's
// backend would each see their own half of.
type testHarness struct {
	t          *testing.T
	table      *grant.LoopbackTable
	frontRing  *shmring.SharedRing
	frontPort  *evtchn.LoopbackPort
	handle     *Handle
}

func newHarness(t *testing.T, abi blkif.ABI, ops Ops) *testHarness {
	ringPage := make([]byte, shmring.HeaderSize+abi.SlotSize()*8)
	table := grant.NewLoopbackTable()
	table.Register(ringRef, ringPage)

	frontRing, err := shmring.NewSharedRing(ringPage, abi.SlotSize())
	require.NoError(t, err)

	localPort, frontPort := evtchn.BindInterdomain()

	h, err := Init(0, ringRef, table, localPort, abi, ops, nil)
	require.NoError(t, err)

	t.Cleanup(func() { h.Cancel() })

	return &testHarness{t: t, table: table, frontRing: frontRing, frontPort: frontPort, handle: h}
}

// registerPage hands the table a fresh page for a segment to name by
// grant reference, simulating a frontend sharing one of its own pages.
func (h *testHarness) registerPage(ref uint32, contents []byte) []byte {
	page := make([]byte, pageSize)
	copy(page, contents)
	h.table.Register(ref, page)
	return page
}

// push publishes req on the ring and waits (bounded) for its response.
func (h *testHarness) push(req *blkif.Request, abi blkif.ABI) *blkif.Response {
	slot, err := req.Marshal(abi)
	require.NoError(h.t, err)

	notify, err := h.frontRing.PushRequest(slot)
	require.NoError(h.t, err)
	if notify {
		require.NoError(h.t, h.frontPort.Notify())
	}

	return h.waitResponse()
}

func (h *testHarness) pushRaw(slot []byte) *blkif.Response {
	_, err := h.frontRing.PushRequest(slot)
	require.NoError(h.t, err)
	require.NoError(h.t, h.frontPort.Notify())
	return h.waitResponse()
}

func (h *testHarness) waitResponse() *blkif.Response {
	deadline := time.After(2 * time.Second)
	for {
		if slotBytes, _, ok := h.frontRing.FetchResponse(); ok {
			resp, err := blkif.UnmarshalResponse(slotBytes)
			require.NoError(h.t, err)
			return resp
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		h.frontPort.Wait(ctx)
		cancel()
		select {
		case <-deadline:
			h.t.Fatal("timed out waiting for response")
		default:
		}
	}
}

func TestReadDispatchesIntoGuestPage(t *testing.T) {
	dev := newFakeDevice(1024)
	pattern := make([]byte, 3*512)
	for i := range pattern {
		pattern[i] = 0xBB
	}
	copy(dev.bytes[200*512:], pattern)

	h := newHarness(t, blkif.ABI64, dev)
	h.registerPage(42, nil)

	req := &blkif.Request{
		Op:     blkif.OpRead,
		ID:     7,
		Sector: 200,
		Segments: []blkif.Segment{
			{GrantRef: 42, FirstSector: 2, LastSector: 4},
		},
	}
	resp := h.push(req, blkif.ABI64)

	assert.Equal(t, uint64(7), resp.ID)
	assert.Equal(t, blkif.StatusOK, resp.Status)

	mapped, err := h.table.Map(0, 42, grant.PermissionRead)
	require.NoError(t, err)
	assert.Equal(t, pattern, mapped[2*512:5*512])
	assert.Equal(t, uint64(1), h.handle.RequestsServed())
}

func TestWriteDispatchesFromGuestPage(t *testing.T) {
	dev := newFakeDevice(1024)
	h := newHarness(t, blkif.ABI64, dev)

	contents := make([]byte, pageSize)
	for i := range contents {
		contents[i] = 0xAA
	}
	h.registerPage(9, contents)

	req := &blkif.Request{
		Op:     blkif.OpWrite,
		ID:     11,
		Sector: 100,
		Segments: []blkif.Segment{
			{GrantRef: 9, FirstSector: 0, LastSector: 7},
		},
	}
	resp := h.push(req, blkif.ABI64)

	assert.Equal(t, blkif.StatusOK, resp.Status)
	want := make([]byte, 8*512)
	for i := range want {
		want[i] = 0xAA
	}
	assert.Equal(t, want, dev.bytes[100*512:108*512])
}

func TestUnsupportedOpReturnsNotSupported(t *testing.T) {
	dev := newFakeDevice(8)
	h := newHarness(t, blkif.ABI64, dev)
	h.registerPage(1, nil)

	req := &blkif.Request{
		Op:       blkif.OpFlush,
		ID:       3,
		Segments: []blkif.Segment{{GrantRef: 1, FirstSector: 0, LastSector: 0}},
	}
	resp := h.push(req, blkif.ABI64)
	assert.Equal(t, blkif.StatusNotSupported, resp.Status)
	assert.Equal(t, uint64(3), resp.ID)
}

func TestBackendIOErrorReturnsError(t *testing.T) {
	dev := newFakeDevice(8)
	dev.fail = true
	h := newHarness(t, blkif.ABI64, dev)
	h.registerPage(1, nil)

	req := &blkif.Request{
		Op:       blkif.OpRead,
		ID:       4,
		Segments: []blkif.Segment{{GrantRef: 1, FirstSector: 0, LastSector: 7}},
	}
	resp := h.push(req, blkif.ABI64)
	assert.Equal(t, blkif.StatusError, resp.Status)
}

func TestProtocolErrorEchoesID(t *testing.T) {
	dev := newFakeDevice(8)
	h := newHarness(t, blkif.ABI64, dev)

	slot := make([]byte, blkif.ABI64.SlotSize())
	slot[1] = blkif.MaxSegments + 1 // nr_segs out of range
	slot[8] = 0x2A                  // id low byte, offset 8 on the 64-bit ABI

	resp := h.pushRaw(slot)
	assert.Equal(t, blkif.StatusNotSupported, resp.Status)
	assert.Equal(t, uint64(0x2A), resp.ID)
}
