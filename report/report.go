// Package report implements the wire codec for the Switch controller HID
// input and output reports: input report IDs 0x21/0x30/0x31/0x3F sent by
// the emulator to the console, and output report IDs 0x01/0x10/0x11 sent
// by the console to the emulator.
package report

import "fmt"

// ID identifies an HID report by its first payload byte (after the marker
// byte).
type ID byte

const (
	// Input report IDs (emulator -> console), marker byte 0xA1.
	InputSubcommand ID = 0x21 // standard report carrying a sub-command reply
	InputStandard   ID = 0x30 // input-only report (buttons and sticks; 14 bytes, no 6-axis data sent)
	InputNFCIR      ID = 0x31 // input report carrying the 313-byte MCU payload
	InputSimple     ID = 0x3F // pre-pairing nominal report

	// Output report IDs (console -> emulator), marker byte 0xA2.
	OutputSubcommand ID = 0x01
	OutputRumble     ID = 0x10
	OutputRequestMCU ID = 0x11
)

const (
	inputMarker  = 0xA1
	outputMarker = 0xA2

	batteryConn = 0x8E // fixed "battery + connection" byte at offset 3
	vibratorPad = 0x80 // fixed vibrator-input placeholder at offset 13

	mcuPayloadSize = 313
)

// InputLen returns the effective (transmitted) length of an input report
// with the given ID, and whether the ID is recognized.
//
// InputSimple is 13 bytes: marker, report ID, then simpleReportTail.
func InputLen(id ID) (int, bool) {
	switch id {
	case InputSubcommand:
		return 51, true
	case InputStandard:
		return 14, true
	case InputNFCIR:
		return 363, true
	case InputSimple:
		return 2 + len(simpleReportTail), true
	default:
		return 0, false
	}
}

// Buttons is the packed 3-byte button state; the bit layout is given by the
// ButtonID constants of the state package.
type Buttons [3]byte

// Stick is a packed 3-byte analog stick triple, see PackStick.
type Stick [3]byte

// PackStick packs a 12-bit (h, v) pair, each in [0, 0x1000), into the wire
// triple format shared by both sticks.
func PackStick(h, v uint16) Stick {
	h &= 0xFFF
	v &= 0xFFF
	return Stick{
		byte(h & 0xFF),
		byte(h>>8) | byte((v&0xF)<<4),
		byte(v >> 4),
	}
}

// UnpackStick is the left inverse of PackStick.
func UnpackStick(s Stick) (h, v uint16) {
	h = uint16(s[0]) | (uint16(s[1]&0xF) << 8)
	v = uint16(s[1]>>4) | (uint16(s[2]) << 4)
	return h, v
}

// Subcommand is a sub-command reply to embed in an InputSubcommand (0x21)
// report: the ACK byte at offset 14, the acknowledged sub-command ID at
// offset 15, and its reply payload starting at offset 16.
type Subcommand struct {
	Ack     byte
	ID      byte
	Payload []byte
}

// Input builds the exact byte sequence of an input report.
//
// buttons and the two sticks are packed into the common header (offsets
// 4..13) for every report ID except InputSimple, which ignores them and
// returns the marker, the report ID and simpleReportTail. sub is only meaningful
// for InputSubcommand; mcu (a 313-byte payload, normally from
// mcu.Engine.GetData) is only meaningful for InputNFCIR. Both are ignored
// for other report IDs.
func Input(id ID, timer byte, buttons Buttons, left, right Stick, sub *Subcommand, mcu *[mcuPayloadSize]byte) []byte {
	n, ok := InputLen(id)
	if !ok {
		panic(fmt.Sprintf("report: unknown input report id %#x", byte(id)))
	}
	if id == InputSimple {
		return inputSimple()
	}

	// Build into a full-size scratch buffer, as the protocol engine keeps
	// one buffer backing every report mode, then truncate to n.
	var buf [363]byte
	buf[0] = inputMarker
	buf[1] = byte(id)
	buf[2] = timer
	buf[3] = batteryConn
	copy(buf[4:7], buttons[:])
	copy(buf[7:10], left[:])
	copy(buf[10:13], right[:])
	buf[13] = vibratorPad

	switch id {
	case InputSubcommand:
		if sub != nil {
			buf[14] = sub.Ack
			buf[15] = sub.ID
			copy(buf[16:51], sub.Payload)
		}
	case InputStandard:
		// The report ends at byte 14, before the 6-axis block; nothing to add.
	case InputNFCIR:
		// bytes 14..50 are zeroed 6-axis data; bytes 50..363 carry the MCU payload.
		if mcu != nil {
			copy(buf[50:363], mcu[:])
		}
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

// simpleReportTail is the fixed payload following the marker and report
// ID in an InputSimple report: the `28 CA 08` prefix, then the
// nominal-stick constant `40 8A 4F 8A D0 7E DF 7F`. Neither constant has
// a documented meaning; consoles expect them byte-for-byte.
var simpleReportTail = [...]byte{
	0x28, 0xCA, 0x08,
	0x40, 0x8A, 0x4F, 0x8A, 0xD0, 0x7E, 0xDF, 0x7F,
}

func inputSimple() []byte {
	buf := make([]byte, 2+len(simpleReportTail))
	buf[0] = inputMarker
	buf[1] = byte(InputSimple)
	copy(buf[2:], simpleReportTail[:])
	return buf
}

// OutputFrame is a parsed 0x01/0x10/0x11 output report.
type OutputFrame struct {
	ID ID
	// Subcommand is the sub-command ID (byte 11) for OutputSubcommand and
	// OutputRequestMCU frames.
	Subcommand byte
	// Data is the sub-command's data, starting at byte 12.
	Data []byte
}

// ParseOutput validates and parses an incoming output report.
func ParseOutput(b []byte) (OutputFrame, error) {
	if len(b) < 2 {
		return OutputFrame{}, fmt.Errorf("report: output report too short (%d bytes)", len(b))
	}
	if b[0] != outputMarker {
		return OutputFrame{}, fmt.Errorf("report: bad output marker %#x", b[0])
	}
	f := OutputFrame{ID: ID(b[1])}
	switch f.ID {
	case OutputSubcommand, OutputRequestMCU:
		if len(b) < 12 {
			return OutputFrame{}, fmt.Errorf("report: output report %#x too short for sub-command", byte(f.ID))
		}
		f.Subcommand = b[11]
		f.Data = b[12:]
	case OutputRumble:
		// Rumble data is ignored entirely; this emulator never vibrates.
	default:
		return OutputFrame{}, fmt.Errorf("report: unknown output report id %#x", b[1])
	}
	return f, nil
}
