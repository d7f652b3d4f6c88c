package provider

import (
	"context"
	"sync"

	"github.com/parleylabs/parley-core/internal/fault"
)

// State tracks backend readiness. A failed load stays failed until an
// explicit Reset; it never silently retries.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Handle is the process-wide lifecycle tracker for one backend
// resource. Concurrent first loads converge on a single underlying
// initialization; the device lock enforces one in-flight inference per
// exclusive device.
type Handle struct {
	device string

	mu      sync.Mutex
	state   State
	loadErr error
	done    chan struct{}

	infer *sync.Mutex
}

func newHandle(device string, deviceLock *sync.Mutex) *Handle {
	if deviceLock == nil {
		deviceLock = &sync.Mutex{}
	}
	return &Handle{device: device, state: StateUnloaded, infer: deviceLock}
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Device() string { return h.device }

// Load drives the handle to ready, running init at most once per
// lifecycle. Callers arriving while a load is in flight block until it
// resolves and observe the same outcome. A handle in failed reports the
// stored error without retrying.
func (h *Handle) Load(ctx context.Context, init func(context.Context) error) error {
	for {
		h.mu.Lock()
		switch h.state {
		case StateReady:
			h.mu.Unlock()
			return nil
		case StateFailed:
			err := h.loadErr
			h.mu.Unlock()
			return fault.Wrap(fault.KindLoad, err, "backend load previously failed, reset required")
		case StateLoading:
			done := h.done
			h.mu.Unlock()
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.KindLoad, ctx.Err(), "interrupted waiting for load")
			case <-done:
			}
			// Loop to observe the final state.
		case StateUnloaded:
			h.state = StateLoading
			h.done = make(chan struct{})
			done := h.done
			h.mu.Unlock()

			var err error
			if init != nil {
				err = init(ctx)
			}

			h.mu.Lock()
			if err != nil {
				h.state = StateFailed
				h.loadErr = err
			} else {
				h.state = StateReady
				h.loadErr = nil
			}
			close(done)
			h.mu.Unlock()
			if err != nil {
				return fault.Wrap(fault.KindLoad, err, "backend load failed")
			}
			return nil
		}
	}
}

// Reset returns the handle to unloaded so a later Load can retry. A
// load in flight is left alone.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateLoading {
		return
	}
	h.state = StateUnloaded
	h.loadErr = nil
}

// WithDevice runs fn while holding the exclusive device slot. Handles
// built for the same device share the lock, so two backends on one
// accelerator never infer concurrently.
func (h *Handle) WithDevice(fn func() error) error {
	h.infer.Lock()
	defer h.infer.Unlock()
	return fn()
}
