package epd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vsmp/core/frame"
	"vsmp/logger"
)

// RefreshMode selects how the panel is updated. Partial refreshes are
// faster but accumulate ghosting, so they must periodically be interleaved
// with full refreshes.
type RefreshMode string

const (
	RefreshFull    RefreshMode = "full"
	RefreshPartial RefreshMode = "partial"
)

// Classified driver faults. All of them are fatal for the tick: the frame
// was not confirmed on glass, so the cursor must not advance.
var (
	// ErrTimeout means the refresh did not complete within the bound.
	ErrTimeout = errors.New("panel refresh timed out")
	// ErrBusFault is a transient bus error; the adapter retries it once.
	ErrBusFault = errors.New("panel bus fault")
	// ErrNotDetected means no panel hardware answered. Never retried.
	ErrNotDetected = errors.New("panel not detected")
)

// Panel is the hardware boundary: something that can take a packed 1-bit
// buffer and put it on glass.
type Panel interface {
	Init() error
	Display(f *frame.PanelFrame, mode RefreshMode) error
	Clear() error
	Sleep() error
}

// RenderResult describes a confirmed render.
type RenderResult struct {
	Mode    RefreshMode
	Retried bool
	Elapsed time.Duration
}

// Adapter wraps a Panel with the tick-level driving policy: a bounded
// timeout around the refresh, a single immediate retry on transient bus
// faults only, and strictly serialized hardware access. A refresh that
// outlives its timeout keeps the bus reserved until it actually returns, so
// a later tick can never interleave transfers with a stuck one.
type Adapter struct {
	panel   Panel
	timeout time.Duration

	// mu is held for the full duration of every hardware call, including
	// a Display that has already been abandoned by its timeout.
	mu sync.Mutex
}

// NewAdapter creates an Adapter around the given panel.
func NewAdapter(panel Panel, timeout time.Duration) *Adapter {
	return &Adapter{panel: panel, timeout: timeout}
}

// Init initializes the underlying panel.
func (a *Adapter) Init() error {
	if !a.mu.TryLock() {
		return fmt.Errorf("%w: a previous refresh is still outstanding", ErrTimeout)
	}
	defer a.mu.Unlock()
	return a.panel.Init()
}

// Render pushes a frame to the panel. Exactly one retry happens, and only
// for bus faults; timeouts and absent hardware surface immediately.
func (a *Adapter) Render(f *frame.PanelFrame, mode RefreshMode) (*RenderResult, error) {
	start := time.Now()

	retried := false
	err := a.display(f, mode)
	if errors.Is(err, ErrBusFault) {
		logger.Warn("transient bus fault, retrying once", logger.ErrorField(err))
		retried = true
		err = a.display(f, mode)
	}
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		Mode:    mode,
		Retried: retried,
		Elapsed: time.Since(start),
	}, nil
}

// Clear wipes the panel to white.
func (a *Adapter) Clear() error {
	if !a.mu.TryLock() {
		return fmt.Errorf("%w: a previous refresh is still outstanding", ErrTimeout)
	}
	defer a.mu.Unlock()
	return a.panel.Clear()
}

// Sleep puts the panel into deep sleep. E-paper left powered between ticks
// degrades, so this runs after every render.
func (a *Adapter) Sleep() error {
	if !a.mu.TryLock() {
		return fmt.Errorf("%w: a previous refresh is still outstanding", ErrTimeout)
	}
	defer a.mu.Unlock()
	return a.panel.Sleep()
}

func (a *Adapter) display(f *frame.PanelFrame, mode RefreshMode) error {
	if !a.mu.TryLock() {
		return fmt.Errorf("%w: a previous refresh is still outstanding", ErrTimeout)
	}

	done := make(chan error, 1)
	go func() {
		err := a.panel.Display(f, mode)
		a.mu.Unlock()
		done <- err
	}()

	// On timeout the goroutine is left to finish on its own; it keeps the
	// lock until then, so every later hardware call is refused instead of
	// running concurrently on the bus. Matters in play mode, where the
	// process is long-lived.
	select {
	case err := <-done:
		return err
	case <-time.After(a.timeout):
		return fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
	}
}
