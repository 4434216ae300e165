package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"vsmp/core/epd"
	"vsmp/core/frame"
	"vsmp/model"

	"github.com/joho/godotenv"
)

// Config stores the engine configuration. Every knob comes from the
// environment (optionally via a .env file) with a sensible default, and the
// whole struct is validated once before any hardware or state I/O happens.
type Config struct {
	// Playback
	VideoPath string          // explicit source file; empty means scan MovieDir
	MovieDir  string          // directory scanned for .mp4 sources
	Step      int64           // frames to advance per tick, may be negative
	EndPolicy model.EndPolicy // loop, stop or reverse
	FastSeek  bool            // keyframe -ss seeking instead of exact frame-index seek

	// Persistence
	StateFile string // playback cursor, atomically replaced on commit

	// Panel
	Panel            string // epd7in5v2 or sim
	PanelWidth       int
	PanelHeight      int
	Rotation         int // 0, 90, 180 or 270 degrees
	Fit              frame.FitPolicy
	Dither           frame.DitherPolicy
	RefreshMode      epd.RefreshMode // full forces a full refresh every tick
	FullRefreshEvery int             // partial mode: full refresh after this many ticks
	RenderTimeout    time.Duration
	SimOutput        string // sim panel: PNG written per render

	// Tools
	FFmpegPath   string
	PlayInterval time.Duration // delay between ticks in play mode

	// Logging
	LogLevel string
	LogPath  string

	// Source acquisition (sync command)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioPrefix    string
	MinioUseSSL    bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or
// defaults. Call Validate on the result before using it.
func Load() *Config {
	// godotenv.Load() will not override existing env vars. A missing
	// .env file is fine; the environment and defaults carry it.
	_ = godotenv.Load()

	return &Config{
		VideoPath: getEnv("VSMP_VIDEO", ""),
		MovieDir:  getEnv("VSMP_MOVIE_DIR", ".media/movies"),
		Step:      int64(getEnvInt("VSMP_STEP", 12)),
		EndPolicy: model.EndPolicy(getEnv("VSMP_END_POLICY", "loop")),
		FastSeek:  getEnvBool("VSMP_FAST_SEEK", false),

		StateFile: getEnv("VSMP_STATE_FILE", ".media/state.json"),

		Panel:            getEnv("VSMP_PANEL", "epd7in5v2"),
		PanelWidth:       getEnvInt("VSMP_PANEL_WIDTH", 800),
		PanelHeight:      getEnvInt("VSMP_PANEL_HEIGHT", 480),
		Rotation:         getEnvInt("VSMP_ROTATION", 0),
		Fit:              frame.FitPolicy(getEnv("VSMP_FIT", "letterbox")),
		Dither:           frame.DitherPolicy(getEnv("VSMP_DITHER", "error-diffusion")),
		RefreshMode:      epd.RefreshMode(getEnv("VSMP_REFRESH_MODE", "partial")),
		FullRefreshEvery: getEnvInt("VSMP_FULL_REFRESH_EVERY", 10),
		RenderTimeout:    time.Duration(getEnvInt("VSMP_RENDER_TIMEOUT", 60)) * time.Second,
		SimOutput:        getEnv("VSMP_SIM_OUTPUT", ".media/panel.png"),

		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		PlayInterval: time.Duration(getEnvInt("VSMP_PLAY_INTERVAL", 120)) * time.Second,

		LogLevel: getEnv("VSMP_LOG_LEVEL", "info"),
		LogPath:  getEnv("VSMP_LOG_PATH", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "vsmp"),
		MinioPrefix:    getEnv("MINIO_PREFIX", "movies/"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}

// Validate checks the configuration for values that would only fail once
// hardware or state had already been touched. Configuration errors are
// never partially applied: the caller must abort on a non-nil return.
func (c *Config) Validate() error {
	if c.Step == 0 {
		return fmt.Errorf("VSMP_STEP must be nonzero")
	}
	if c.PanelWidth <= 0 || c.PanelHeight <= 0 {
		return fmt.Errorf("panel geometry %dx%d is invalid", c.PanelWidth, c.PanelHeight)
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("VSMP_ROTATION must be one of 0, 90, 180, 270, got %d", c.Rotation)
	}
	if !c.EndPolicy.Valid() {
		return fmt.Errorf("VSMP_END_POLICY %q not recognized (loop, stop, reverse)", c.EndPolicy)
	}
	switch c.Fit {
	case frame.FitLetterbox, frame.FitCrop:
	default:
		return fmt.Errorf("VSMP_FIT %q not recognized (letterbox, crop)", c.Fit)
	}
	switch c.Dither {
	case frame.DitherOrdered, frame.DitherErrorDiffusion, frame.DitherNone:
	default:
		return fmt.Errorf("VSMP_DITHER %q not recognized (ordered, error-diffusion, none)", c.Dither)
	}
	switch c.RefreshMode {
	case epd.RefreshFull, epd.RefreshPartial:
	default:
		return fmt.Errorf("VSMP_REFRESH_MODE %q not recognized (full, partial)", c.RefreshMode)
	}
	if c.FullRefreshEvery < 1 {
		return fmt.Errorf("VSMP_FULL_REFRESH_EVERY must be at least 1, got %d", c.FullRefreshEvery)
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("VSMP_RENDER_TIMEOUT must be positive")
	}
	if c.PlayInterval <= 0 {
		return fmt.Errorf("VSMP_PLAY_INTERVAL must be positive")
	}
	switch c.Panel {
	case "epd7in5v2", "sim":
	default:
		return fmt.Errorf("VSMP_PANEL %q not recognized (epd7in5v2, sim)", c.Panel)
	}
	return nil
}

// LockFile returns the mutual-exclusion lock path, colocated with the state
// file so both always live on the same filesystem.
func (c *Config) LockFile() string {
	return c.StateFile + ".lock"
}

// RefreshCounterFile returns the best-effort side file tracking ticks since
// the last full refresh. Losing it only forces an early full refresh.
func (c *Config) RefreshCounterFile() string {
	return c.StateFile + ".refresh"
}

// Geometry returns the transformer target for the configured panel.
func (c *Config) Geometry() frame.Geometry {
	return frame.Geometry{
		Width:    c.PanelWidth,
		Height:   c.PanelHeight,
		Rotation: c.Rotation,
	}
}
