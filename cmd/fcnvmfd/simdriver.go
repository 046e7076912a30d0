package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fcnvmf/target/internal/lld"
	"github.com/fcnvmf/target/internal/wire"
)

// simQueue is the in-memory state a simDriver keeps per HWQP: just enough to
// make InitQueue/SetQueueOnline/PostXxx calls observable without any real
// ring/DMA/IRQ plumbing behind them.
type simQueue struct {
	hwqpID uint32
	online bool
}

// simDriver is a fully in-process stand-in for the physical LLD, sufficient
// to drive every core operation end to end: it hands back a *simQueue
// carrying the hwqp id as the queue handle, records LS responses and counts
// BLS responses, and accepts every other transmit without putting bytes on
// a wire. Real deployments replace this with a driver bound to actual FC
// adapter firmware; spec.md scopes that binding out.
type simDriver struct {
	mu          sync.Mutex
	queues      map[uint32]*simQueue
	xriNext     uint32
	lsResponses [][]byte
	blsAccepts  int
	blsRejects  int
}

func newSimDriver() *simDriver {
	return &simDriver{queues: make(map[uint32]*simQueue)}
}

func (d *simDriver) InitQueue(_ context.Context, hwqpID uint32) (lld.QueueHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := &simQueue{hwqpID: hwqpID}
	d.queues[hwqpID] = q
	return q, nil
}

func (d *simDriver) ReinitQueue(_ context.Context, q lld.QueueHandle) error {
	sq := q.(*simQueue)
	d.mu.Lock()
	sq.online = false
	d.mu.Unlock()
	return nil
}

func (d *simDriver) SetQueueOnline(_ context.Context, q lld.QueueHandle) error {
	sq := q.(*simQueue)
	d.mu.Lock()
	sq.online = true
	d.mu.Unlock()
	return nil
}

func (d *simDriver) AcquireXRI(lld.QueueHandle) (uint32, bool) {
	return atomic.AddUint32(&d.xriNext, 1), true
}

func (d *simDriver) ReleaseXRI(lld.QueueHandle, uint32) {}

func (d *simDriver) PostXferReady(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}

func (d *simDriver) PostDataSend(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}

func (d *simDriver) PostResponse(context.Context, lld.QueueHandle, uint32, []byte) error {
	return nil
}

func (d *simDriver) PostLSResponse(_ context.Context, _ lld.QueueHandle, _ uint16, payload []byte) error {
	d.mu.Lock()
	d.lsResponses = append(d.lsResponses, payload)
	d.mu.Unlock()
	return nil
}

func (d *simDriver) PostBLSResponse(_ context.Context, _ lld.QueueHandle, _, _ uint16, payload []byte) error {
	d.mu.Lock()
	if len(payload) == wire.BAAccPayloadSize {
		d.blsAccepts++
	} else {
		d.blsRejects++
	}
	d.mu.Unlock()
	return nil
}

func (d *simDriver) IssueAbort(context.Context, lld.QueueHandle, uint32, bool) error {
	return nil
}

func (d *simDriver) PostSRSRRequest(context.Context, lld.QueueHandle, []byte) ([]byte, error) {
	return nil, nil
}

func (d *simDriver) QueueSyncAvailable(lld.QueueHandle) bool { return true }

func (d *simDriver) IssueQueueSyncMarker(context.Context, lld.QueueHandle, uint64) error {
	return nil
}

func (d *simDriver) ReleaseRQBuffer(lld.QueueHandle, uint32) {}

func (d *simDriver) PollQueue(context.Context, lld.QueueHandle, func(lld.Event)) (int, error) {
	return 0, nil
}
