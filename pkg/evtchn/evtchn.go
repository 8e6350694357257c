// Package evtchn models the signal port (event channel) the block
// transport uses as its side-channel interrupt: a lightweight,
// cross-domain wakeup with no payload. Event-channel primitives are
// an external collaborator per the transport's scope — this package
// defines the Port interface the backend consumes plus a loopback
// implementation backed by a Go channel, grounded on
// markrussinovich-grpc-go-shmem's channel-and-context signaling style
// (e.g. its errCh/goAwayCh pattern) rather than its Linux futex
// syscalls, since there is no real second domain to futex against in
// a single process.
package evtchn

import "context"

// Port is a bound signal port: a one-way-at-a-time interrupt with no
// payload, only a wakeup.
type Port interface {
	// Notify signals the peer bound to this port.
	Notify() error
	// Wait blocks until the peer notifies this port or ctx is
	// cancelled.
	Wait(ctx context.Context) error
	// Fd returns an integration point for an external poller. The
	// loopback implementation has none; it returns -1.
	Fd() int
	// Close unbinds the port.
	Close() error
}

// LoopbackPort connects two in-process parties that would otherwise
// be separated domains. Both ends share one pending wakeup, so a
// Notify on either end wakes whichever end's Wait takes it first,
// which can be the notifying end itself. BindInterdomain returns a
// connected pair.
type LoopbackPort struct {
	wake   chan struct{}
	closed chan struct{}
}

// BindInterdomain constructs a connected pair of LoopbackPorts, one
// for each side of the relationship it models, analogous to binding a
// signal port between a remote domid and a local one.
func BindInterdomain() (local, remote *LoopbackPort) {
	// A real Xen block device has exactly one event channel per
	// device, shared by both directions: either side's Notify fires
	// the same interrupt line, and whichever side is parked in Wait
	// picks it up. One shared wake channel models that; each side
	// still unbinds (closes) independently.
	wake := make(chan struct{}, 1)
	local = &LoopbackPort{wake: wake, closed: make(chan struct{})}
	remote = &LoopbackPort{wake: wake, closed: make(chan struct{})}
	return local, remote
}

func (p *LoopbackPort) Notify() error {
	select {
	case p.wake <- struct{}{}:
	default:
		// a pending wakeup already covers this one; Wait only needs
		// to know "something happened since I last checked".
	}
	return nil
}

func (p *LoopbackPort) Wait(ctx context.Context) error {
	select {
	case <-p.wake:
		return nil
	case <-p.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *LoopbackPort) Fd() int { return -1 }

func (p *LoopbackPort) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}
