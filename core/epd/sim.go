package epd

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"vsmp/core/frame"
	"vsmp/logger"
)

// SimPanel is a file-backed stand-in for the hardware: every render writes
// the frame out as a PNG. Useful for developing off the Pi and for
// end-to-end runs in CI.
type SimPanel struct {
	outputPath string
	width      int
	height     int
}

// NewSimPanel creates a simulated panel of the given geometry.
func NewSimPanel(outputPath string, width, height int) *SimPanel {
	return &SimPanel{outputPath: outputPath, width: width, height: height}
}

func (p *SimPanel) Init() error {
	return os.MkdirAll(filepath.Dir(p.outputPath), 0755)
}

func (p *SimPanel) Display(f *frame.PanelFrame, mode RefreshMode) error {
	if f.Width != p.width || f.Height != p.height {
		return fmt.Errorf("frame is %dx%d, sim panel is %dx%d", f.Width, f.Height, p.width, p.height)
	}
	if err := p.writePNG(f.Image()); err != nil {
		return fmt.Errorf("%w: %v", ErrBusFault, err)
	}
	logger.Debug("sim panel updated",
		logger.String("path", p.outputPath),
		logger.String("mode", string(mode)))
	return nil
}

func (p *SimPanel) Clear() error {
	img := image.NewGray(image.Rect(0, 0, p.width, p.height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return p.writePNG(img)
}

func (p *SimPanel) Sleep() error {
	return nil
}

func (p *SimPanel) writePNG(img *image.Gray) error {
	out, err := os.Create(p.outputPath)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
