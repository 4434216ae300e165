package video

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"vsmp/logger"
)

// Classified extraction failures. The controller maps these onto its retry
// and end-of-video behavior, so wrap rather than replace them.
var (
	// ErrSourceUnreadable means the file is missing or its container is
	// corrupt. Fatal for the tick; the next tick retries unchanged.
	ErrSourceUnreadable = errors.New("video source unreadable")
	// ErrPositionOutOfRange means the requested frame is past the end of
	// the source. Resolved by the end-of-video policy, not an error path.
	ErrPositionOutOfRange = errors.New("frame position out of range")
	// ErrDecodeFailure is a transient decode problem; retry next tick.
	ErrDecodeFailure = errors.New("frame decode failure")
)

// Extractor pulls single frames out of a video file with ffmpeg. The same
// (source, position) pair yields the same frame bytes across invocations.
type Extractor struct {
	ffmpegPath string
	fastSeek   bool
}

// NewExtractor creates an Extractor. fastSeek trades exact frame-index
// seeking for keyframe -ss seeking, which is much faster on long sources but
// may land on a neighboring frame around keyframe boundaries.
func NewExtractor(ffmpegPath string, fastSeek bool) *Extractor {
	return &Extractor{ffmpegPath: ffmpegPath, fastSeek: fastSeek}
}

// ffprobeOutput mirrors the fields of ffprobe's JSON output we consume.
type ffprobeOutput struct {
	Streams []struct {
		NbFrames     string `json:"nb_frames"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the total frame count and frame rate of the first video
// stream. Containers that do not carry an exact frame count fall back to
// rate times duration, the same estimate the panel spends weeks walking
// through anyway.
func (e *Extractor) Probe(inputFile string) (int64, float64, error) {
	if _, err := os.Stat(inputFile); err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, inputFile, err)
	}

	ffprobePath := strings.Replace(e.ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames,avg_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, 0, fmt.Errorf("%w: ffprobe failed for %s: %v: %s",
			ErrSourceUnreadable, inputFile, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, 0, fmt.Errorf("%w: unmarshal ffprobe output: %v", ErrSourceUnreadable, err)
	}
	if len(probeData.Streams) == 0 {
		return 0, 0, fmt.Errorf("%w: no video streams in %s", ErrSourceUnreadable, inputFile)
	}

	fps := parseFrameRate(probeData.Streams[0].AvgFrameRate)

	if n, err := strconv.ParseInt(probeData.Streams[0].NbFrames, 10, 64); err == nil && n > 0 {
		return n, fps, nil
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, 0, fmt.Errorf("%w: %s has neither frame count nor duration", ErrSourceUnreadable, inputFile)
	}

	total := int64(math.Round(duration * fps))
	logger.Debug("frame count estimated from duration",
		logger.String("source", inputFile),
		logger.Float64("duration", duration),
		logger.Float64("fps", fps),
		logger.Int64("total", total))
	return total, fps, nil
}

// Extract decodes exactly one frame at the given position. The frame is
// piped out of ffmpeg as PNG so no intermediate file is left behind on a
// crash.
func (e *Extractor) Extract(inputFile string, position int64, fps float64) (image.Image, error) {
	if _, err := os.Stat(inputFile); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, inputFile, err)
	}
	if position < 0 {
		return nil, fmt.Errorf("%w: frame %d", ErrPositionOutOfRange, position)
	}

	var args []string
	if e.fastSeek {
		if fps <= 0 {
			fps = 24
		}
		seconds := float64(position) / fps
		args = []string{
			"-v", "error",
			"-ss", strconv.FormatFloat(seconds, 'f', 6, 64),
			"-i", inputFile,
		}
	} else {
		args = []string{
			"-v", "error",
			"-i", inputFile,
			"-vf", fmt.Sprintf("select=eq(n\\,%d)", position),
			"-vsync", "0",
		}
	}
	args = append(args,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)

	cmd := exec.Command(e.ffmpegPath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	logger.Debug("extracting frame",
		logger.String("source", inputFile),
		logger.Int64("frame", position),
		logger.Bool("fastSeek", e.fastSeek))

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		// "Invalid data" is ffmpeg's wording for a corrupt container.
		if strings.Contains(msg, "Invalid data") || strings.Contains(msg, "No such file") {
			return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrSourceUnreadable, err, msg)
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecodeFailure, err, msg)
	}

	// ffmpeg exits zero with empty output when the select filter matches
	// nothing, which is how a past-the-end position manifests.
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: frame %d yielded no output", ErrPositionOutOfRange, position)
	}

	img, err := png.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ffmpeg output: %v", ErrDecodeFailure, err)
	}
	return img, nil
}

// parseFrameRate turns ffprobe's "num/den" rational into a float, falling
// back to 24 fps when the field is missing or degenerate.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		if f, err := strconv.ParseFloat(rate, 64); err == nil && f > 0 {
			return f
		}
		return 24
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
		return 24
	}
	return n / d
}
