package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrSPIReadTooLarge is returned by SPIFlashRead when the requested size
// exceeds the maximum a single sub-command reply can carry.
var ErrSPIReadTooLarge = errors.New("report: SPI flash read size exceeds 0x1D")

// MaxSPIReadSize is the largest size a single 0x10 SPI_FLASH_READ reply can
// carry in its fixed-size sub-command payload.
const MaxSPIReadSize = 0x1D

// DeviceInfo encodes the REQUEST_DEVICE_INFO (0x02) reply payload.
func DeviceInfo(fwMajor, fwMinor, controllerKind byte, mac [6]byte) []byte {
	out := make([]byte, 0, 12)
	out = append(out, fwMajor, fwMinor, controllerKind, 0x02)
	out = append(out, mac[:]...)
	out = append(out, 0x01, 0x01)
	return out
}

// SPIFlashRead encodes the SPI_FLASH_READ (0x10) reply payload: the
// requested offset, the size, and the data itself.
func SPIFlashRead(offset uint32, data []byte) ([]byte, error) {
	if len(data) > MaxSPIReadSize {
		return nil, fmt.Errorf("%w: %d", ErrSPIReadTooLarge, len(data))
	}
	out := make([]byte, 4, 5+len(data))
	binary.LittleEndian.PutUint32(out, offset)
	out = append(out, byte(len(data)))
	out = append(out, data...)
	return out, nil
}

// TriggerTimes holds the elapsed-time-since-pressed value of each trigger
// button, as understood by TRIGGER_BUTTONS_ELAPSED_TIME (0x04).
type TriggerTimes struct {
	L, R, ZL, ZR, SL, SR, Home time.Duration
}

// ErrTriggerTimeTooLarge is returned when a TriggerTimes field can't be
// represented in the wire format's 16-bit, 10ms-resolution counter.
var ErrTriggerTimeTooLarge = errors.New("report: trigger elapsed time exceeds 0xFFFF * 10ms")

// PairingTriggerTimes is the fixed reply used during pairing, per
// controller kind: Pro Controller reports L=R=3000ms, Joy-Cons report
// SL=SR=3000ms.
func PairingTriggerTimes(isProController bool) TriggerTimes {
	const pairingElapsed = 3000 * time.Millisecond
	if isProController {
		return TriggerTimes{L: pairingElapsed, R: pairingElapsed}
	}
	return TriggerTimes{SL: pairingElapsed, SR: pairingElapsed}
}

// TriggerButtonsElapsedTime encodes the TRIGGER_BUTTONS_ELAPSED_TIME (0x04)
// reply payload: seven little-endian 16-bit values, in L, R, ZL, ZR, SL,
// SR, HOME order, each the elapsed time in units of 10ms.
func TriggerButtonsElapsedTime(t TriggerTimes) ([]byte, error) {
	vals := [7]time.Duration{t.L, t.R, t.ZL, t.ZR, t.SL, t.SR, t.Home}
	out := make([]byte, 14)
	for i, d := range vals {
		tenMs := d.Milliseconds() / 10
		if tenMs < 0 || tenMs > 0xFFFF {
			return nil, fmt.Errorf("%w: %v", ErrTriggerTimeTooLarge, d)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(tenMs))
	}
	return out, nil
}

// nfcIRMCUConfig is the fixed 34-byte SET_NFC_IR_MCU_CONFIG (0x21) reply,
// bit-exact. Its final byte is nominally CRC-8 of the preceding 33, and
// both forms are required to agree; since the literal is fixed, the
// agreement is simply baked in here rather than recomputed.
var nfcIRMCUConfig = [...]byte{
	0x01, 0x00, 0xFF, 0x00, 0x08, 0x00, 0x1B, 0x01,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0xC8,
}

// NFCIRMCUConfig encodes the SET_NFC_IR_MCU_CONFIG (0x21) reply payload.
func NFCIRMCUConfig() []byte {
	out := make([]byte, len(nfcIRMCUConfig))
	copy(out, nfcIRMCUConfig[:])
	return out
}
