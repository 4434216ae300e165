package player

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsmp/config"
	"vsmp/core/epd"
	"vsmp/core/frame"
	"vsmp/core/state"
	"vsmp/core/video"
	"vsmp/model"
)

// fakeExtractor serves synthetic frames and records which positions were
// asked for.
type fakeExtractor struct {
	total          int64
	fps            float64
	outOfRangeFrom int64 // positions at or past this report out-of-range; 0 disables
	extractErr     error
	extracted      []int64
}

func (e *fakeExtractor) Probe(path string) (int64, float64, error) {
	return e.total, e.fps, nil
}

func (e *fakeExtractor) Extract(path string, position int64, fps float64) (image.Image, error) {
	if e.extractErr != nil {
		return nil, e.extractErr
	}
	if e.outOfRangeFrom > 0 && position >= e.outOfRangeFrom {
		return nil, fmt.Errorf("%w: frame %d", video.ErrPositionOutOfRange, position)
	}
	e.extracted = append(e.extracted, position)
	return image.NewGray(image.Rect(0, 0, 32, 16)), nil
}

// fakeRenderer scripts render outcomes per call and records modes.
type fakeRenderer struct {
	renderErrs []error
	renders    int
	modes      []epd.RefreshMode
}

func (r *fakeRenderer) Init() error  { return nil }
func (r *fakeRenderer) Sleep() error { return nil }

func (r *fakeRenderer) Render(f *frame.PanelFrame, mode epd.RefreshMode) (*epd.RenderResult, error) {
	var err error
	if r.renders < len(r.renderErrs) {
		err = r.renderErrs[r.renders]
	}
	r.renders++
	if err != nil {
		return nil, err
	}
	r.modes = append(r.modes, mode)
	return &epd.RenderResult{Mode: mode}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	source := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(source, []byte("not really a movie"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	cfg := &config.Config{
		VideoPath:        source,
		MovieDir:         dir,
		Step:             5,
		EndPolicy:        model.EndPolicyLoop,
		StateFile:        filepath.Join(dir, "state.json"),
		Panel:            "sim",
		PanelWidth:       32,
		PanelHeight:      16,
		Fit:              frame.FitLetterbox,
		Dither:           frame.DitherNone,
		RefreshMode:      epd.RefreshPartial,
		FullRefreshEvery: 3,
		RenderTimeout:    time.Second,
		SimOutput:        filepath.Join(dir, "panel.png"),
		FFmpegPath:       "ffmpeg",
		PlayInterval:     time.Second,
		LogLevel:         "info",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func seedState(t *testing.T, cfg *config.Config, position, step, total int64) {
	t.Helper()
	fp, err := state.Fingerprint(cfg.VideoPath)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	store := state.NewStore(cfg.StateFile, cfg.Step)
	err = store.Save(&model.PlaybackState{
		Position:          position,
		Step:              step,
		TotalFrames:       total,
		SourceFingerprint: fp,
		UpdatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seeding state: %v", err)
	}
}

func loadPosition(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	fp, err := state.Fingerprint(cfg.VideoPath)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	st, err := state.NewStore(cfg.StateFile, cfg.Step).Load(fp)
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	return st.Position
}

// Fresh state, 100 frames, step 5: tick one shows frame 0 and persists 5,
// tick two shows frame 5 and persists 10.
func TestTickAdvancesFromFreshState(t *testing.T) {
	cfg := testConfig(t)
	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if got := loadPosition(t, cfg); got != 5 {
		t.Fatalf("after tick 1 position = %d, want 5", got)
	}

	if err := ctrl.Tick(); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if got := loadPosition(t, cfg); got != 10 {
		t.Fatalf("after tick 2 position = %d, want 10", got)
	}

	want := []int64{0, 5}
	if len(extractor.extracted) != 2 || extractor.extracted[0] != want[0] || extractor.extracted[1] != want[1] {
		t.Fatalf("extracted %v, want %v", extractor.extracted, want)
	}
}

// Position 98, step 5, 100 frames, policy stop: the cursor pins at the last
// valid frame and keeps re-rendering it without error.
func TestTickStopPolicyPinsAtEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.EndPolicy = model.EndPolicyStop
	seedState(t, cfg, 98, 5, 100)

	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); err != nil {
		t.Fatalf("tick at 98: %v", err)
	}
	if got := loadPosition(t, cfg); got != 99 {
		t.Fatalf("position = %d, want pinned 99", got)
	}

	for i := 0; i < 3; i++ {
		if err := ctrl.Tick(); err != nil {
			t.Fatalf("pinned tick %d: %v", i, err)
		}
	}
	if got := loadPosition(t, cfg); got != 99 {
		t.Fatalf("position drifted to %d, want pinned 99", got)
	}
	last := extractor.extracted[len(extractor.extracted)-1]
	if last != 99 {
		t.Fatalf("last extracted frame = %d, want 99", last)
	}
}

// Render failure at position 40: the tick fails, the cursor stays at 40,
// and a rerun with working hardware shows frame 40 and advances normally.
func TestTickRenderFailureDoesNotAdvance(t *testing.T) {
	cfg := testConfig(t)
	seedState(t, cfg, 40, 5, 100)

	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{renderErrs: []error{epd.ErrTimeout}}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); !errors.Is(err, epd.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if got := loadPosition(t, cfg); got != 40 {
		t.Fatalf("failed render moved the cursor to %d", got)
	}

	// Same inputs, working panel: frame 40 again, then advance.
	if err := ctrl.Tick(); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if got := loadPosition(t, cfg); got != 45 {
		t.Fatalf("position = %d, want 45", got)
	}
	last := extractor.extracted[len(extractor.extracted)-1]
	if last != 40 {
		t.Fatalf("retry extracted frame %d, want 40", last)
	}
}

// The probed frame count was an estimate that overshot the real end: the
// extractor reports out-of-range, the policy is applied, and extraction
// re-enters exactly once.
func TestTickOutOfRangeAppliesPolicyOnce(t *testing.T) {
	cfg := testConfig(t)
	seedState(t, cfg, 98, 5, 100)

	extractor := &fakeExtractor{total: 100, fps: 24, outOfRangeFrom: 95}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	// Loop policy wrapped 98 mod 98 back to frame 0.
	if len(extractor.extracted) != 1 || extractor.extracted[0] != 0 {
		t.Fatalf("extracted %v, want [0]", extractor.extracted)
	}
	if got := loadPosition(t, cfg); got != 5 {
		t.Fatalf("position = %d, want 5", got)
	}
}

// Extraction failure leaves the cursor alone so the next scheduled tick
// retries the same frame.
func TestTickExtractFailureDoesNotAdvance(t *testing.T) {
	cfg := testConfig(t)
	seedState(t, cfg, 40, 5, 100)

	extractor := &fakeExtractor{total: 100, fps: 24, extractErr: video.ErrDecodeFailure}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); !errors.Is(err, video.ErrDecodeFailure) {
		t.Fatalf("got %v, want ErrDecodeFailure", err)
	}
	if renderer.renders != 0 {
		t.Fatalf("renderer driven despite extraction failure")
	}
	if got := loadPosition(t, cfg); got != 40 {
		t.Fatalf("failed extraction moved the cursor to %d", got)
	}
}

// failingSaver loads normally but cannot persist.
type failingSaver struct {
	inner *state.Store
}

func (s *failingSaver) Load(fingerprint string) (*model.PlaybackState, error) {
	return s.inner.Load(fingerprint)
}

func (s *failingSaver) Save(st *model.PlaybackState) error {
	return errors.New("disk full")
}

func TestTickCommitFailureIsDistinct(t *testing.T) {
	cfg := testConfig(t)
	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{}
	store := &failingSaver{inner: state.NewStore(cfg.StateFile, cfg.Step)}
	ctrl := New(cfg, store, extractor, renderer)

	err := ctrl.Tick()
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("got %v, want ErrCommitFailed", err)
	}
	// The frame was rendered before the commit was attempted.
	if renderer.renders != 1 {
		t.Fatalf("renders = %d, want 1", renderer.renders)
	}
}

func TestTickRefusedWhileLockHeld(t *testing.T) {
	cfg := testConfig(t)
	lock, err := state.AcquireLock(cfg.LockFile())
	if err != nil {
		t.Fatalf("holding lock: %v", err)
	}
	defer lock.Release()

	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	if err := ctrl.Tick(); !errors.Is(err, state.ErrTickInProgress) {
		t.Fatalf("got %v, want ErrTickInProgress", err)
	}
	if renderer.renders != 0 {
		t.Fatalf("locked-out tick still drove the panel")
	}
	if _, err := os.Stat(cfg.StateFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("locked-out tick touched the state file")
	}
}

func TestTickForcesPeriodicFullRefresh(t *testing.T) {
	cfg := testConfig(t) // partial mode, full refresh every 3 ticks

	extractor := &fakeExtractor{total: 100, fps: 24}
	renderer := &fakeRenderer{}
	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), extractor, renderer)

	for i := 0; i < 3; i++ {
		if err := ctrl.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	want := []epd.RefreshMode{epd.RefreshPartial, epd.RefreshPartial, epd.RefreshFull}
	if len(renderer.modes) != len(want) {
		t.Fatalf("modes = %v, want %v", renderer.modes, want)
	}
	for i := range want {
		if renderer.modes[i] != want[i] {
			t.Fatalf("tick %d mode = %s, want %s", i, renderer.modes[i], want[i])
		}
	}
}

func TestResolveSourcePicksFirstMovie(t *testing.T) {
	cfg := testConfig(t)
	cfg.VideoPath = ""

	// testConfig already dropped movie.mp4 in MovieDir; add more.
	for _, name := range []string{"zebra.mp4", "alpha.mp4", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(cfg.MovieDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), &fakeExtractor{}, &fakeRenderer{})
	source, err := ctrl.ResolveSource()
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	if filepath.Base(source) != "alpha.mp4" {
		t.Fatalf("resolved %s, want alpha.mp4", source)
	}
}

func TestResolveSourceEmptyDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.VideoPath = ""
	if err := os.Remove(filepath.Join(cfg.MovieDir, "movie.mp4")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ctrl := New(cfg, state.NewStore(cfg.StateFile, cfg.Step), &fakeExtractor{}, &fakeRenderer{})
	if _, err := ctrl.ResolveSource(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("got %v, want ErrNoSource", err)
	}
}
