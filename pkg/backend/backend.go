// Package backend implements the block-device serving side of the
// transport: it consumes requests published on a shmring.SharedRing,
// dispatches per-segment I/O against grant-shared pages, writes
// responses, and signals the peer, per §4.4.
package backend

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/djs55/vhddisk/pkg/blkif"
	"github.com/djs55/vhddisk/pkg/elog"
	"github.com/djs55/vhddisk/pkg/evtchn"
	"github.com/djs55/vhddisk/pkg/grant"
	"github.com/djs55/vhddisk/pkg/shmring"
)

// pokerInterval is how often the service loop re-checks the ring even
// without a signal-port wakeup, defensive against a missed edge (§4.4).
const pokerInterval = 5 * time.Second

// Ops is the block I/O the backend dispatches each segment to. Read
// fills page[firstSector*512 : (lastSector+1)*512] with the contents
// of sectorInDevice..; Write persists that range of page to disk.
// Both sectors are relative to the mapped page (0..7); sectorInDevice
// is the absolute device sector the page's first valid sector maps to.
type Ops interface {
	Read(ctx context.Context, page []byte, sectorInDevice uint64, firstSectorInPage, lastSectorInPage uint8) error
	Write(ctx context.Context, page []byte, sectorInDevice uint64, firstSectorInPage, lastSectorInPage uint8) error
}

// Handle is a running backend service loop. Cancel tears it down.
type Handle struct {
	domid    uint16
	table    grant.Table
	ring     *shmring.SharedRing
	ringPage []byte
	ringRef  uint32
	port     evtchn.Port

	cancel context.CancelFunc
	done   chan struct{}

	requestsServed uint64
}

// Init maps ringRef as the shared request/response ring (per the
// chosen ABI's slot size), binds it to port, and starts the service
// loop in the background. The returned Handle owns both the ring's
// page mapping and the port; cancelling it tears both down, per §5's
// cancellation contract.
func Init(domid uint16, ringRef uint32, table grant.Table, port evtchn.Port, abi blkif.ABI, ops Ops, log elog.Logger) (*Handle, error) {
	log = withLogger(log)

	page, err := table.Map(domid, ringRef, grant.PermissionReadWrite)
	if err != nil {
		return nil, err
	}

	ring, err := shmring.NewSharedRing(page, abi.SlotSize())
	if err != nil {
		table.Unmap(page)
		return nil, err
	}

	h := &Handle{
		domid:    domid,
		table:    table,
		ring:     ring,
		ringPage: page,
		ringRef:  ringRef,
		port:     port,
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.serve(ctx, abi, ops, log)

	return h, nil
}

// RequestsServed returns the number of requests this handle has
// responded to so far, for diagnostics.
func (h *Handle) RequestsServed() uint64 {
	return atomic.LoadUint64(&h.requestsServed)
}

// Cancel stops the service loop, unmaps the ring's shared page,
// releases its grant, and unbinds the signal port. In-flight
// per-segment I/O is not forcibly interrupted (ops implementations are
// expected to respect ctx), but no further response is published once
// cancellation has started.
func (h *Handle) Cancel() error {
	h.cancel()
	<-h.done

	if err := h.table.Unmap(h.ringPage); err != nil {
		return err
	}
	return h.port.Close()
}

// serve is the backend's service loop (§4.4): block on the signal
// port, then drain every slot published since the last wakeup. A
// per-iteration timeout on the wait stands in for the periodic poker
// that recovers from a missed signal edge; it is not required for
// correctness, only resilience.
func (h *Handle) serve(ctx context.Context, abi blkif.ABI, ops Ops, log elog.Logger) {
	defer close(h.done)

	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, pokerInterval)
		err := h.port.Wait(waitCtx)
		waitCancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Debugf("backend: wait: %v", err)
		}

		h.drain(ctx, abi, ops, log)
	}
}

// drain processes every request slot visible since the last call,
// writing one response per request, and notifies the peer when the
// ring's own bookkeeping says to (§4.2's notify policy).
func (h *Handle) drain(ctx context.Context, abi blkif.ABI, ops Ops, log elog.Logger) {
	for {
		slotBytes, _, ok := h.ring.FetchRequest()
		if !ok {
			return
		}

		resp := h.handleRequest(ctx, slotBytes, abi, ops, log)
		if ctx.Err() != nil {
			return
		}
		atomic.AddUint64(&h.requestsServed, 1)

		_, notify := h.ring.WriteResponse(resp.Marshal())
		if notify {
			if err := h.port.Notify(); err != nil {
				log.Warnf("backend: notify peer: %v", err)
			}
		}
	}
}

// handleRequest decodes one request slot, dispatches its segments
// concurrently, and returns the response to publish. Protocol errors
// produce NotSupported; a failure from ops produces Error; anything
// else produces OK, per §7.
func (h *Handle) handleRequest(ctx context.Context, slotBytes []byte, abi blkif.ABI, ops Ops, log elog.Logger) *blkif.Response {
	req, err := blkif.UnmarshalRequest(slotBytes, abi)
	if err != nil {
		id, _ := blkif.PeekID(slotBytes, abi)
		log.Warnf("backend: protocol error decoding request %d: %v", id, err)
		return &blkif.Response{ID: id, Status: blkif.StatusNotSupported}
	}

	if req.Op != blkif.OpRead && req.Op != blkif.OpWrite {
		log.Debugf("backend: request %d: op %s not supported", req.ID, req.Op)
		return &blkif.Response{ID: req.ID, Op: req.Op, Status: blkif.StatusNotSupported}
	}

	if err := h.dispatchSegments(ctx, req, ops); err != nil {
		log.Errorf("backend: request %d: %v", req.ID, err)
		return &blkif.Response{ID: req.ID, Op: req.Op, Status: blkif.StatusError}
	}

	return &blkif.Response{ID: req.ID, Op: req.Op, Status: blkif.StatusOK}
}

// dispatchSegments maps each segment's grant reference and runs the
// requested op against it concurrently, joining before returning
// (§4.4 step 3, §9's note that a thread pool or native tasks are both
// acceptable as long as every segment completes before the response).
// Read needs host write access into the guest page (permission 3);
// Write only needs read access to it (permission 1).
func (h *Handle) dispatchSegments(ctx context.Context, req *blkif.Request, ops Ops) error {
	perm := grant.PermissionRead
	if req.Op == blkif.OpRead {
		perm = grant.PermissionReadWrite
	}

	g, gctx := errgroup.WithContext(ctx)
	sector := req.Sector
	for _, seg := range req.Segments {
		seg := seg
		off := sector
		sector += uint64(seg.SectorCount())

		g.Go(func() error {
			return grant.WithRef(h.table, h.domid, seg.GrantRef, perm, func(page []byte) error {
				if req.Op == blkif.OpRead {
					return ops.Read(gctx, page, off, seg.FirstSector, seg.LastSector)
				}
				return ops.Write(gctx, page, off, seg.FirstSector, seg.LastSector)
			})
		})
	}
	return g.Wait()
}

func withLogger(log elog.Logger) elog.Logger {
	if log == nil {
		return elog.Nop{}
	}
	return log
}
