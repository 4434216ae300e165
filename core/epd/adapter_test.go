package epd

import (
	"errors"
	"sync"
	"testing"
	"time"

	"vsmp/core/frame"
)

// fakePanel scripts Display outcomes per call. Counters are guarded so
// tests can observe them while a Display is still blocked.
type fakePanel struct {
	mu          sync.Mutex
	displayErrs []error
	displays    int
	block       time.Duration
	proceed     chan struct{} // when set, Display blocks until it closes
	lastMode    RefreshMode
}

func (p *fakePanel) Init() error  { return nil }
func (p *fakePanel) Clear() error { return nil }
func (p *fakePanel) Sleep() error { return nil }

func (p *fakePanel) Display(f *frame.PanelFrame, mode RefreshMode) error {
	p.mu.Lock()
	p.lastMode = mode
	var err error
	if p.displays < len(p.displayErrs) {
		err = p.displayErrs[p.displays]
	}
	p.displays++
	p.mu.Unlock()

	if p.block > 0 {
		time.Sleep(p.block)
	}
	if p.proceed != nil {
		<-p.proceed
	}
	return err
}

func (p *fakePanel) displayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displays
}

func testFrame() *frame.PanelFrame {
	return &frame.PanelFrame{Width: 8, Height: 1, Bits: []byte{0xFF}}
}

func TestRenderSuccess(t *testing.T) {
	panel := &fakePanel{}
	adapter := NewAdapter(panel, time.Second)

	result, err := adapter.Render(testFrame(), RefreshPartial)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if result.Mode != RefreshPartial {
		t.Fatalf("result mode = %s, want partial", result.Mode)
	}
	if result.Retried {
		t.Fatalf("clean render should not be marked retried")
	}
	if got := panel.displayCount(); got != 1 {
		t.Fatalf("panel driven %d times, want 1", got)
	}
}

func TestRenderRetriesBusFaultOnce(t *testing.T) {
	panel := &fakePanel{displayErrs: []error{ErrBusFault}}
	adapter := NewAdapter(panel, time.Second)

	result, err := adapter.Render(testFrame(), RefreshFull)
	if err != nil {
		t.Fatalf("Render after retry: %v", err)
	}
	if !result.Retried {
		t.Fatalf("result should record the retry")
	}
	if got := panel.displayCount(); got != 2 {
		t.Fatalf("panel driven %d times, want 2", got)
	}
}

func TestRenderGivesUpAfterSecondBusFault(t *testing.T) {
	panel := &fakePanel{displayErrs: []error{ErrBusFault, ErrBusFault}}
	adapter := NewAdapter(panel, time.Second)

	if _, err := adapter.Render(testFrame(), RefreshFull); !errors.Is(err, ErrBusFault) {
		t.Fatalf("got %v, want ErrBusFault", err)
	}
	if got := panel.displayCount(); got != 2 {
		t.Fatalf("panel driven %d times, want exactly 2 (one retry)", got)
	}
}

func TestRenderNeverRetriesMissingHardware(t *testing.T) {
	panel := &fakePanel{displayErrs: []error{ErrNotDetected}}
	adapter := NewAdapter(panel, time.Second)

	if _, err := adapter.Render(testFrame(), RefreshFull); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("got %v, want ErrNotDetected", err)
	}
	if got := panel.displayCount(); got != 1 {
		t.Fatalf("absent hardware retried: %d displays", got)
	}
}

func TestRenderTimesOut(t *testing.T) {
	panel := &fakePanel{block: 200 * time.Millisecond}
	adapter := NewAdapter(panel, 20*time.Millisecond)

	if _, err := adapter.Render(testFrame(), RefreshFull); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

// A refresh that blew its timeout still owns the bus. Until it actually
// returns, every hardware entry point must be refused rather than driven
// alongside the stuck transfer.
func TestRenderRefusedWhileDisplayOutstanding(t *testing.T) {
	panel := &fakePanel{proceed: make(chan struct{})}
	adapter := NewAdapter(panel, 20*time.Millisecond)

	if _, err := adapter.Render(testFrame(), RefreshFull); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	if _, err := adapter.Render(testFrame(), RefreshFull); !errors.Is(err, ErrTimeout) {
		t.Fatalf("render during outstanding display: got %v, want ErrTimeout", err)
	}
	if err := adapter.Init(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("init during outstanding display: got %v, want ErrTimeout", err)
	}
	if err := adapter.Clear(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("clear during outstanding display: got %v, want ErrTimeout", err)
	}
	if got := panel.displayCount(); got != 1 {
		t.Fatalf("panel driven %d times while stuck, want 1", got)
	}

	// Let the stuck call return; rendering must recover.
	close(panel.proceed)
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := adapter.Render(testFrame(), RefreshFull); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("render never recovered after the stuck display returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
