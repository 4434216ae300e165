package player

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vsmp/config"
	"vsmp/core/epd"
	"vsmp/core/frame"
	"vsmp/core/state"
	"vsmp/core/video"
	"vsmp/logger"
	"vsmp/model"

	"github.com/google/uuid"
)

// ErrCommitFailed marks the one degraded case: the frame was confirmed on
// glass but the advanced cursor could not be persisted. The next tick will
// show the same frame again (at-least-once display, never a skip).
var ErrCommitFailed = errors.New("frame shown but cursor commit failed")

// ErrNoSource means no playable video could be found.
var ErrNoSource = errors.New("no video source available")

// Extractor is the frame-extraction boundary, satisfied by video.Extractor.
type Extractor interface {
	Probe(path string) (int64, float64, error)
	Extract(path string, position int64, fps float64) (image.Image, error)
}

// Renderer is the panel boundary, satisfied by epd.Adapter.
type Renderer interface {
	Init() error
	Render(f *frame.PanelFrame, mode epd.RefreshMode) (*epd.RenderResult, error)
	Sleep() error
}

// Store is the durable cursor boundary, satisfied by state.Store.
type Store interface {
	Load(fingerprint string) (*model.PlaybackState, error)
	Save(st *model.PlaybackState) error
}

// Controller runs one tick: load cursor, extract the frame at it, transform
// it, render it, and only then advance and persist the cursor. Everything
// mutable is loaded at the start and written at the end; nothing survives
// the process.
type Controller struct {
	cfg       *config.Config
	store     Store
	extractor Extractor
	renderer  Renderer
}

// New wires a controller from its collaborators.
func New(cfg *config.Config, store Store, extractor Extractor, renderer Renderer) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		renderer:  renderer,
	}
}

// Tick performs one atomic unit of work. A nil return means a frame is on
// glass and the advanced cursor is persisted. state.ErrTickInProgress means
// another invocation got there first and nothing was touched.
func (c *Controller) Tick() error {
	tickID := uuid.NewString()
	start := time.Now()

	source, err := c.resolveSource()
	if err != nil {
		return err
	}

	lock, err := state.AcquireLock(c.cfg.LockFile())
	if err != nil {
		return err
	}
	defer lock.Release()

	fingerprint, err := state.Fingerprint(source)
	if err != nil {
		return fmt.Errorf("%w: %v", video.ErrSourceUnreadable, err)
	}

	// LOADING
	st, err := c.store.Load(fingerprint)
	if err != nil {
		return fmt.Errorf("loading playback state: %w", err)
	}

	total, fps, err := c.extractor.Probe(source)
	if err != nil {
		return err
	}
	// The cached frame count is advisory; the probe is truth. A shrunken
	// source can leave the cursor stranded past the end.
	st.TotalFrames = total
	if !st.InRange() {
		st.Position, st.Step = model.Normalize(st.Position, st.Step, total, c.cfg.EndPolicy)
	}

	logger.Info("tick started",
		logger.String("tick", tickID),
		logger.String("source", source),
		logger.Int64("frame", st.Position),
		logger.Int64("total", st.TotalFrames),
		logger.Int64("step", st.Step))

	// EXTRACTING
	img, err := c.extractor.Extract(source, st.Position, fps)
	if errors.Is(err, video.ErrPositionOutOfRange) {
		// The probed count was an estimate and overshot the real end.
		// Treat the current position as the end, apply the policy, and
		// re-enter extraction exactly once.
		if st.Position <= 0 {
			return err
		}
		st.TotalFrames = st.Position
		st.Position, st.Step = model.Normalize(st.Position, st.Step, st.TotalFrames, c.cfg.EndPolicy)
		logger.Info("cursor ran off the end, end-of-video policy applied",
			logger.String("tick", tickID),
			logger.String("policy", string(c.cfg.EndPolicy)),
			logger.Int64("frame", st.Position))
		img, err = c.extractor.Extract(source, st.Position, fps)
	}
	if err != nil {
		return err
	}

	// TRANSFORMING: pure; a panic here is a programmer error and is
	// allowed to crash the tick loudly.
	panelFrame := frame.Transform(img, c.cfg.Geometry(), c.cfg.Fit, c.cfg.Dither)

	// RENDERING
	if err := c.renderer.Init(); err != nil {
		return err
	}
	mode := c.selectRefreshMode()
	result, err := c.renderer.Render(panelFrame, mode)
	if err != nil {
		// Never advance past a frame the panel did not show.
		return err
	}
	if err := c.renderer.Sleep(); err != nil {
		logger.Warn("panel sleep failed", logger.String("tick", tickID), logger.ErrorField(err))
	}

	// COMMITTING
	shown := st.Position
	st.Position, st.Step = model.Advance(st.Position, st.Step, st.TotalFrames, c.cfg.EndPolicy)
	st.UpdatedAt = time.Now().UTC()
	if err := c.store.Save(st); err != nil {
		logger.Error("frame shown but cursor commit failed; next tick will repeat it",
			logger.String("tick", tickID),
			logger.String("error_class", "commit_failed"),
			logger.Int64("frame", shown),
			logger.ErrorField(err))
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	c.recordRefresh(mode)

	logger.Info("tick complete",
		logger.String("tick", tickID),
		logger.Int64("shown", shown),
		logger.Int64("next", st.Position),
		logger.String("refresh", string(result.Mode)),
		logger.Bool("retried", result.Retried),
		logger.Duration("render", result.Elapsed),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// ResolveSource exposes source selection for the status command.
func (c *Controller) ResolveSource() (string, error) {
	return c.resolveSource()
}

// resolveSource returns the configured video, or deterministically the
// first .mp4 in the movie directory when none is configured.
func (c *Controller) resolveSource() (string, error) {
	if c.cfg.VideoPath != "" {
		return c.cfg.VideoPath, nil
	}

	entries, err := os.ReadDir(c.cfg.MovieDir)
	if err != nil {
		return "", fmt.Errorf("%w: reading movie dir %s: %v", ErrNoSource, c.cfg.MovieDir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			candidates = append(candidates, entry.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no .mp4 files in %s", ErrNoSource, c.cfg.MovieDir)
	}
	sort.Strings(candidates)
	return filepath.Join(c.cfg.MovieDir, candidates[0]), nil
}
