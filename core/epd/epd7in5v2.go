package epd

import (
	"fmt"
	"time"

	"vsmp/core/frame"
	"vsmp/logger"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Waveshare 7.5" v2 black/white panel, 800x480. Command values and the init
// sequence follow the vendor reference driver; chip select is handled by
// the SPI controller (CE0).
const (
	epdWidth  = 800
	epdHeight = 480

	epdRstPin  = "GPIO17"
	epdDcPin   = "GPIO25"
	epdBusyPin = "GPIO24"

	// A full refresh on this panel takes a few seconds; anything past
	// this is a wedged controller.
	epdBusyTimeout = 30 * time.Second

	// spidev transfers are capped at 4096 bytes per message.
	epdChunkSize = 4096
)

// EPD7in5V2 drives the physical panel over SPI and GPIO.
type EPD7in5V2 struct {
	port spi.PortCloser
	conn spi.Conn
	rst  gpio.PinIO
	dc   gpio.PinIO
	busy gpio.PinIO
}

// NewEPD7in5V2 returns an uninitialized driver; call Init before use.
func NewEPD7in5V2() *EPD7in5V2 {
	return &EPD7in5V2{}
}

// Init brings up the SPI bus and GPIO pins and runs the panel's power-on
// sequence. Missing hardware surfaces as ErrNotDetected.
func (e *EPD7in5V2) Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("%w: periph host init: %v", ErrNotDetected, err)
	}

	port, err := spireg.Open("")
	if err != nil {
		return fmt.Errorf("%w: opening SPI port: %v", ErrNotDetected, err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("%w: connecting SPI: %v", ErrNotDetected, err)
	}
	e.port = port
	e.conn = conn

	e.rst = gpioreg.ByName(epdRstPin)
	e.dc = gpioreg.ByName(epdDcPin)
	e.busy = gpioreg.ByName(epdBusyPin)
	if e.rst == nil || e.dc == nil || e.busy == nil {
		port.Close()
		return fmt.Errorf("%w: GPIO pins %s/%s/%s unavailable", ErrNotDetected, epdRstPin, epdDcPin, epdBusyPin)
	}
	if err := e.busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		port.Close()
		return fmt.Errorf("%w: configuring busy pin: %v", ErrNotDetected, err)
	}

	if err := e.reset(); err != nil {
		return err
	}

	// Power-on sequence per the vendor driver.
	if err := e.sendCommand(0x01); err != nil { // POWER SETTING
		return err
	}
	if err := e.sendData(0x07, 0x07, 0x3F, 0x3F); err != nil { // VGH/VGL, VDH, VDL
		return err
	}

	if err := e.sendCommand(0x04); err != nil { // POWER ON
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := e.readBusy(); err != nil {
		return err
	}

	if err := e.sendCommand(0x00); err != nil { // PANEL SETTING
		return err
	}
	if err := e.sendData(0x1F); err != nil { // KW mode
		return err
	}

	if err := e.sendCommand(0x61); err != nil { // RESOLUTION SETTING
		return err
	}
	if err := e.sendData(0x03, 0x20, 0x01, 0xE0); err != nil { // 800x480
		return err
	}

	if err := e.sendCommand(0x15); err != nil {
		return err
	}
	if err := e.sendData(0x00); err != nil {
		return err
	}

	if err := e.sendCommand(0x50); err != nil { // VCOM AND DATA INTERVAL
		return err
	}
	if err := e.sendData(0x10, 0x07); err != nil {
		return err
	}

	if err := e.sendCommand(0x60); err != nil { // TCON SETTING
		return err
	}
	if err := e.sendData(0x22); err != nil {
		return err
	}

	logger.Debug("e-paper panel initialized")
	return nil
}

// Display pushes a packed frame and triggers a refresh. Full mode runs a
// clearing cycle first; partial mode skips it and lets ghosting accumulate
// until the controller forces a full refresh.
func (e *EPD7in5V2) Display(f *frame.PanelFrame, mode RefreshMode) error {
	if f.Width != epdWidth || f.Height != epdHeight {
		return fmt.Errorf("frame is %dx%d, panel is %dx%d", f.Width, f.Height, epdWidth, epdHeight)
	}
	if e.conn == nil {
		return fmt.Errorf("%w: display before init", ErrNotDetected)
	}

	if mode == RefreshFull {
		if err := e.Clear(); err != nil {
			return err
		}
	}

	if err := e.sendCommand(0x13); err != nil { // DATA START TRANSMISSION 2
		return err
	}
	// The controller expects inverted bits relative to the packed buffer.
	inverted := make([]byte, len(f.Bits))
	for i, b := range f.Bits {
		inverted[i] = ^b
	}
	if err := e.sendData(inverted...); err != nil {
		return err
	}

	return e.refresh()
}

// Clear wipes both controller RAM planes to white and refreshes.
func (e *EPD7in5V2) Clear() error {
	if e.conn == nil {
		return fmt.Errorf("%w: clear before init", ErrNotDetected)
	}

	blank := make([]byte, epdWidth/8*epdHeight)
	if err := e.sendCommand(0x10); err != nil { // DATA START TRANSMISSION 1
		return err
	}
	if err := e.sendData(blank...); err != nil {
		return err
	}
	if err := e.sendCommand(0x13); err != nil {
		return err
	}
	if err := e.sendData(blank...); err != nil {
		return err
	}
	return e.refresh()
}

// Sleep powers the panel down into deep sleep. A new Init is required
// afterwards.
func (e *EPD7in5V2) Sleep() error {
	if e.conn == nil {
		return nil
	}
	if err := e.sendCommand(0x02); err != nil { // POWER OFF
		return err
	}
	if err := e.readBusy(); err != nil {
		return err
	}
	if err := e.sendCommand(0x07); err != nil { // DEEP SLEEP
		return err
	}
	if err := e.sendData(0xA5); err != nil {
		return err
	}
	if e.port != nil {
		e.port.Close()
		e.port = nil
		e.conn = nil
	}
	return nil
}

func (e *EPD7in5V2) refresh() error {
	if err := e.sendCommand(0x12); err != nil { // DISPLAY REFRESH
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return e.readBusy()
}

func (e *EPD7in5V2) reset() error {
	if err := e.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: reset pin: %v", ErrBusFault, err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := e.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: reset pin: %v", ErrBusFault, err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := e.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: reset pin: %v", ErrBusFault, err)
	}
	time.Sleep(200 * time.Millisecond)
	return nil
}

func (e *EPD7in5V2) sendCommand(c byte) error {
	if err := e.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: dc pin: %v", ErrBusFault, err)
	}
	if err := e.conn.Tx([]byte{c}, nil); err != nil {
		return fmt.Errorf("%w: command 0x%02X: %v", ErrBusFault, c, err)
	}
	return nil
}

func (e *EPD7in5V2) sendData(data ...byte) error {
	if err := e.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: dc pin: %v", ErrBusFault, err)
	}
	for off := 0; off < len(data); off += epdChunkSize {
		end := off + epdChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := e.conn.Tx(data[off:end], nil); err != nil {
			return fmt.Errorf("%w: data transfer: %v", ErrBusFault, err)
		}
	}
	return nil
}

// readBusy polls the busy line until the controller is idle. The panel
// reports busy as low.
func (e *EPD7in5V2) readBusy() error {
	deadline := time.Now().Add(epdBusyTimeout)
	for {
		if err := e.sendCommand(0x71); err != nil { // GET STATUS
			return err
		}
		if e.busy.Read() == gpio.High {
			time.Sleep(20 * time.Millisecond)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: busy line stuck low", ErrTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
