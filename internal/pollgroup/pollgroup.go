// Package pollgroup implements the cooperative poll-group scheduler: each
// PollGroup owns a disjoint set of HWQPs and drains them from a single
// dedicated goroutine — the "HWQP thread" the rest of the core refers to —
// with no blocking inside the loop other than the cross-group admin mutex
// taken while a group's HWQP membership is mutated (spec.md §5 "single
// thread per executor; the only cross-thread lock guards poll-group
// membership changes").
package pollgroup

import (
	"context"
	"sync"
	"time"

	"github.com/fcnvmf/target/internal/bufcache"
	"github.com/fcnvmf/target/internal/fabric"
	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/logger"
	"github.com/fcnvmf/target/internal/pipeline"
	"github.com/fcnvmf/target/internal/wire"
)

// PollGroup drains a disjoint set of HWQPs from a single goroutine, handing
// every delivered event to the pipeline/ABTS layer. One Cache is shared by
// every HWQP a group owns, matching bufcache's single-owner contract.
type PollGroup struct {
	ID uint32

	Driver   lld.Driver
	Pipeline *pipeline.Pipeline
	Cache    *bufcache.Cache

	// AdminMu is the one cross-group lock: held only while a group's HWQP
	// membership changes, never while draining events.
	AdminMu *sync.Mutex

	mu    sync.Mutex
	hwqps map[uint32]*fabric.HWQP

	stop chan struct{}
}

// New creates an empty PollGroup. adminMu must be shared across every
// PollGroup in the process; it is the one lock spec.md §5 permits the
// otherwise-lockless poll loop to take.
func New(id uint32, driver lld.Driver, pl *pipeline.Pipeline, cache *bufcache.Cache, adminMu *sync.Mutex) *PollGroup {
	return &PollGroup{
		ID:       id,
		Driver:   driver,
		Pipeline: pl,
		Cache:    cache,
		AdminMu:  adminMu,
		hwqps:    make(map[uint32]*fabric.HWQP),
		stop:     make(chan struct{}),
	}
}

// AddHWQP registers h as owned by g, under the admin lock.
func (g *PollGroup) AddHWQP(h *fabric.HWQP) {
	g.AdminMu.Lock()
	defer g.AdminMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	h.PollGroup = g
	g.hwqps[h.ID] = h
}

// RemoveHWQP unregisters h from g, under the admin lock (port-offline's
// remove-hwqp fan-out drives this).
func (g *PollGroup) RemoveHWQP(h *fabric.HWQP) {
	g.AdminMu.Lock()
	defer g.AdminMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.hwqps, h.ID)
}

// HWQPs returns a snapshot of the HWQPs currently owned by g.
func (g *PollGroup) HWQPs() []*fabric.HWQP {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*fabric.HWQP, 0, len(g.hwqps))
	for _, h := range g.hwqps {
		out = append(out, h)
	}
	return out
}

// Stop signals Run to return after its current pass completes.
func (g *PollGroup) Stop() {
	close(g.stop)
}

// idleBackoff bounds how long Run sleeps between passes that handled no
// events, so an idle group doesn't spin a core.
const idleBackoff = time.Millisecond

// Run drains every owned HWQP in round-robin passes until ctx is canceled
// or Stop is called. It is meant to run as the group's single dedicated
// goroutine; callers must not invoke Run concurrently for the same group.
func (g *PollGroup) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		default:
		}

		handled := 0
		for _, h := range g.HWQPs() {
			qh, _ := h.LLDHandle.(lld.QueueHandle)
			n, err := g.Driver.PollQueue(ctx, qh, func(ev lld.Event) {
				g.handleEvent(ctx, h, qh, ev)
			})
			if err != nil {
				logger.WarnCtx(ctx, "pollgroup: poll queue failed", logger.Err(err))
				continue
			}
			handled += n
			if g.retryPendingFCP(ctx, h, qh) {
				handled++
			}
		}

		if handled == 0 {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			case <-time.After(idleBackoff):
			}
		}
	}
}

func (g *PollGroup) handleEvent(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	switch ev.Kind {
	case lld.EventFrameReceived:
		g.handleFrameReceived(ctx, h, qh, ev)
	case lld.EventXferReadyComplete:
		g.handleXferReadyComplete(ctx, h, qh, ev)
	case lld.EventDataSendComplete:
		g.handleDataSendComplete(ctx, h, qh, ev)
	case lld.EventResponseComplete:
		g.handleResponseComplete(ctx, h, qh, ev)
	case lld.EventAbortComplete:
		g.handleAbortComplete(ctx, h, qh, ev)
	case lld.EventQueueSyncComplete:
		h.RunAndClearSyncCallbacks()
	}
}

func (g *PollGroup) handleFrameReceived(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	if len(ev.Payload) < wire.FrameHeaderSize {
		return
	}
	hdr, err := wire.DecodeHeader(ev.Payload[:wire.FrameHeaderSize])
	if err != nil {
		return
	}
	body := ev.Payload[wire.FrameHeaderSize:]

	req, err := g.Pipeline.Receive(ctx, h, hdr, body, body)
	if err != nil {
		logger.WarnCtx(ctx, "pollgroup: receive rejected frame", logger.Err(err))
		return
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return
	}
	if err := g.Pipeline.Execute(ctx, req, conn, h, g.Cache, qh); err != nil {
		logger.WarnCtx(ctx, "pollgroup: execute failed", logger.Err(err))
	}
}

func (g *PollGroup) handleXferReadyComplete(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	req, ok := h.FindRequestByXRI(ev.XRI)
	if !ok {
		return
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return
	}
	if err := g.Pipeline.OnXferComplete(ctx, req, conn, qh); err != nil {
		logger.WarnCtx(ctx, "pollgroup: xfer-complete hand-off failed", logger.Err(err))
	}
}

func (g *PollGroup) handleDataSendComplete(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	req, ok := h.FindRequestByXRI(ev.XRI)
	if !ok {
		return
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return
	}
	g.Pipeline.OnDataSendComplete(ctx, req, conn, qh)
}

// retryPendingFCP retries at most one request parked by Execute on resource
// exhaustion (spec.md §4.3: pending-buffer queue). Bounding it to one
// request per HWQP per pass keeps a still-exhausted resource from spinning
// the poll loop.
func (g *PollGroup) retryPendingFCP(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle) bool {
	addr, ok := h.PopPendingFCP()
	if !ok {
		return false
	}
	req, ok := h.RequestByAddr(addr)
	if !ok {
		return true
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return true
	}
	if err := g.Pipeline.Execute(ctx, req, conn, h, g.Cache, qh); err != nil {
		logger.WarnCtx(ctx, "pollgroup: pending-fcp retry failed", logger.Err(err))
	}
	return true
}

func (g *PollGroup) handleResponseComplete(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	req, ok := h.FindRequestByXRI(ev.XRI)
	if !ok {
		return
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return
	}
	g.Pipeline.Free(req, conn, h, g.Cache, qh)
}

func (g *PollGroup) handleAbortComplete(ctx context.Context, h *fabric.HWQP, qh lld.QueueHandle, ev lld.Event) {
	req, ok := h.FindRequestByXRI(ev.XRI)
	if !ok {
		return
	}
	conn, ok := h.LookupConnection(req.ConnectionID)
	if !ok {
		return
	}
	g.Pipeline.OnAbortComplete(ctx, req, conn, h, g.Cache, qh)
}
