// Package protocol implements the HID protocol engine: sub-command
// dispatch for incoming output reports and the periodic writer loop that
// emits input reports at the cadence the console expects.
package protocol

import (
	"log"
	"sync"
	"time"

	"joycontrol.dev/mcu"
	"joycontrol.dev/report"
	"joycontrol.dev/spiflash"
	"joycontrol.dev/state"
)

// Writer is the minimal transport surface the engine needs to emit bytes;
// transport.Session implements it.
type Writer interface {
	Write(b []byte) error
}

// inputMode is the writer loop's current output shape, selected by the
// SET_INPUT_REPORT_MODE sub-command.
type inputMode byte

const (
	modeSubcommandOnly inputMode = 0x00 // no mode selected yet
	modeStandard       inputMode = 0x30
	modeNFCIR          inputMode = 0x31
)

const (
	gripMenuCadence = time.Second / 15
	activeCadence   = time.Second / 60
)

// Engine is one session's HID protocol engine: sub-command dispatch plus
// the writer loop, bound to a Controller state, an SPI flash image, and an
// MCU engine.
type Engine struct {
	state  *state.Controller
	flash  *spiflash.Image
	mcu    *mcu.Engine
	mac    [6]byte
	logger *log.Logger

	mu         sync.Mutex
	mode       inputMode
	timer      byte
	leftGrip   bool // true until {A,B,Home} observed, per kind mask
	writerOnce sync.Once
	writerDone chan struct{}
	writer     Writer
}

// New creates an engine for a session. mac is the local adapter address,
// reported in REQUEST_DEVICE_INFO replies.
func New(c *state.Controller, flash *spiflash.Image, m *mcu.Engine, mac [6]byte, logger *log.Logger) *Engine {
	return &Engine{
		state:      c,
		flash:      flash,
		mcu:        m,
		mac:        mac,
		logger:     logger,
		leftGrip:   true,
		writerDone: make(chan struct{}),
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// ReportReceived handles one incoming output report.
func (e *Engine) ReportReceived(b []byte, w Writer) {
	f, err := report.ParseOutput(b)
	if err != nil {
		e.logf("protocol: %v", err)
		return
	}
	switch f.ID {
	case report.OutputRumble:
		// Rumble payloads carry no sub-command and are ignored.
	case report.OutputSubcommand:
		e.dispatchSubcommand(f.Subcommand, f.Data, w)
	case report.OutputRequestMCU:
		e.mcu.Received11(f.Subcommand, f.Data)
	}
}

// ConnectionLost closes the controller state, waking any blocked Send
// caller with "not connected". It does not stop the writer loop directly;
// the loop exits on its own at its first failed write.
func (e *Engine) ConnectionLost() {
	e.state.Close()
}

func (e *Engine) reply(w Writer, ack, subID byte, payload []byte) {
	sub := &report.Subcommand{Ack: ack, ID: subID, Payload: payload}
	buf := e.buildReport(report.InputSubcommand, sub)
	if err := w.Write(buf); err != nil {
		e.logf("protocol: write failed: %v", err)
		return
	}
	e.state.Acknowledge()
}

func (e *Engine) dispatchSubcommand(id byte, data []byte, w Writer) {
	switch id {
	case 0x02: // REQUEST_DEVICE_INFO
		payload := report.DeviceInfo(0x04, 0x00, byte(e.state.Kind), e.mac)
		e.reply(w, 0x82, id, payload)
	case 0x03: // SET_INPUT_REPORT_MODE
		if len(data) < 1 {
			return
		}
		e.mu.Lock()
		e.mode = inputMode(data[0])
		e.mu.Unlock()
		if inputMode(data[0]) == modeNFCIR {
			e.mcu.EnteredReportMode31()
		}
		e.reply(w, 0x80, id, nil)
	case 0x04: // TRIGGER_BUTTONS_ELAPSED_TIME
		payload, err := report.TriggerButtonsElapsedTime(report.PairingTriggerTimes(e.state.Kind == state.ProController))
		if err != nil {
			e.logf("protocol: %v", err)
			return
		}
		e.reply(w, 0x83, id, payload)
	case 0x08: // SET_SHIPMENT_STATE
		e.reply(w, 0x80, id, nil)
	case 0x10: // SPI_FLASH_READ
		if len(data) < 5 {
			return
		}
		offset := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		size := int(data[4])
		slice, err := e.flash.Read(offset, size)
		if err != nil {
			e.logf("protocol: %v", err)
			return
		}
		payload, err := report.SPIFlashRead(offset, slice)
		if err != nil {
			e.logf("protocol: %v", err)
			return
		}
		e.reply(w, 0x90, id, payload)
	case 0x21: // SET_NFC_IR_MCU_CONFIG
		nfcMode := len(data) > 2 && data[2] == 0x04
		e.mcu.SetConfig(nfcMode)
		e.reply(w, 0xA0, id, report.NFCIRMCUConfig())
	case 0x22: // SET_NFC_IR_MCU_STATE
		if len(data) < 1 {
			return
		}
		e.mcu.SetPower(data[0])
		e.reply(w, 0x80, id, nil)
	case 0x30: // SET_PLAYER_LIGHTS
		e.reply(w, 0x80, id, nil)
		e.state.MarkReady()
		e.startWriter(w)
	case 0x40: // ENABLE_6AXIS_SENSOR
		e.reply(w, 0x80, id, nil)
	case 0x48: // ENABLE_VIBRATION
		e.reply(w, 0x80, id, nil)
	default:
		e.logf("protocol: unknown sub-command %#x", id)
	}
}

// startWriter launches the writer loop exactly once per session.
func (e *Engine) startWriter(w Writer) {
	e.writerOnce.Do(func() {
		e.writer = w
		go e.writerLoop()
	})
}

func (e *Engine) writerLoop() {
	defer close(e.writerDone)
	ticker := time.NewTicker(gripMenuCadence)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		mode := e.mode
		grip := e.leftGrip
		e.mu.Unlock()

		if mode == modeNFCIR {
			e.mcu.Poll()
		}

		id := reportIDForMode(mode, grip)
		if id == 0 {
			continue // subcommand-only mode: no periodic report
		}
		buf := e.emit(id)
		if err := e.writer.Write(buf); err != nil {
			e.logf("protocol: writer loop: %v", err)
			e.ConnectionLost()
			return
		}
		e.state.Acknowledge()

		if grip && e.crossedGripMenuExit() {
			e.mu.Lock()
			e.leftGrip = false
			e.mu.Unlock()
			ticker.Reset(activeCadence)
		}
	}
}

// reportIDForMode picks the periodic report ID: during grip-menu cadence
// (before the console has pressed A/B/Home) an unset mode falls back to the
// 0x3F nominal report; once that's behind us, an unset mode means no
// periodic report is ever emitted (sub-command replies only).
func reportIDForMode(mode inputMode, grip bool) report.ID {
	switch mode {
	case modeStandard:
		return report.InputStandard
	case modeNFCIR:
		return report.InputNFCIR
	default:
		if grip {
			return report.InputSimple
		}
		return 0
	}
}

// crossedGripMenuExit masks the controller's actual button state (not the
// emitted report bytes, which for 0x3F carry a fixed literal instead) against
// the controller-kind-specific exit mask.
func (e *Engine) crossedGripMenuExit() bool {
	mask := state.GripMenuExitMask(e.state.Kind)
	bytes := e.state.Buttons.Bytes()
	for i := range bytes {
		if bytes[i]&mask[i] != 0 {
			return true
		}
	}
	return false
}

// nextTimer increments and returns the wrapping per-emission timer byte.
func (e *Engine) nextTimer() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer++
	return e.timer
}

// snapshotSticks reads the current button and stick state, packing
// whichever sticks this controller kind has into wire-format triples.
func (e *Engine) snapshotSticks() (buttons report.Buttons, left, right report.Stick) {
	buttons = report.Buttons(e.state.Buttons.Bytes())
	if e.state.Left != nil {
		h, v := e.state.Left.Get()
		left = report.PackStick(h, v)
	}
	if e.state.Right != nil {
		h, v := e.state.Right.Get()
		right = report.PackStick(h, v)
	}
	return buttons, left, right
}

// emit builds the next periodic input report from the controller state.
func (e *Engine) emit(id report.ID) []byte {
	timer := e.nextTimer()
	buttons, left, right := e.snapshotSticks()

	var mcuPayload *[mcuPayloadSize]byte
	if id == report.InputNFCIR {
		data := e.mcu.GetData()
		mcuPayload = &data
	}
	return report.Input(id, timer, buttons, left, right, nil, mcuPayload)
}

// buildReport builds a sub-command reply report (0x21) outside the regular
// writer loop cadence, using the current controller state snapshot.
func (e *Engine) buildReport(id report.ID, sub *report.Subcommand) []byte {
	timer := e.nextTimer()
	buttons, left, right := e.snapshotSticks()
	return report.Input(id, timer, buttons, left, right, sub, nil)
}

const mcuPayloadSize = 313
