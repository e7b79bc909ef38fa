// Package mcu emulates the right Joy-Con / Pro Controller's
// Micro-Controller Unit, the secondary state machine that handles NFC tag
// polling, reading, and writing over the same interrupt channel the
// standard input reports travel on.
package mcu

import (
	"fmt"
	"log"
	"sync"

	"joycontrol.dev/report"
)

// PowerState is the MCU's top-level power/configuration state. The
// values are the wire encoding used in set_power/set_config requests and
// echoed back in status replies; they are not sequential.
type PowerState byte

const (
	Suspended     PowerState = 0x00
	Ready         PowerState = 0x01
	ReadyUpdate   PowerState = 0x02
	ConfiguredNFC PowerState = 0x04
)

func (p PowerState) String() string {
	switch p {
	case Suspended:
		return "suspended"
	case Ready:
		return "ready"
	case ReadyUpdate:
		return "ready_update"
	case ConfiguredNFC:
		return "configured_nfc"
	default:
		return fmt.Sprintf("power(%d)", byte(p))
	}
}

// NFCState is the sub-state meaningful only while the power state is
// ConfiguredNFC. The values are the wire encoding packed into the
// nfc_state byte of every status frame; they are not sequential.
type NFCState byte

const (
	NFCNone          NFCState = 0x00
	NFCPoll          NFCState = 0x01
	NFCPendingRead   NFCState = 0x02
	NFCWriting       NFCState = 0x03
	NFCAwaitingWrite NFCState = 0x04
	NFCPollAgain     NFCState = 0x09
)

func (s NFCState) String() string {
	switch s {
	case NFCNone:
		return "none"
	case NFCPoll:
		return "poll"
	case NFCPendingRead:
		return "pending_read"
	case NFCWriting:
		return "writing"
	case NFCAwaitingWrite:
		return "awaiting_write"
	case NFCPollAgain:
		return "poll_again"
	default:
		return fmt.Sprintf("nfc(%d)", byte(s))
	}
}

// Tag is the minimal read/write surface the MCU engine needs from an NFC
// tag; amiibo.Tag implements it.
type Tag interface {
	UID() [7]byte
	Data() []byte
	SetLockBytes(v [4]byte)
	WriteRegion(addr int, data []byte) error
	Save() error
}

const (
	mcuPayloadSize = 313
	// removedAmiiboFrames is how many status emissions, after an internal
	// write completes, synthesize a zeroed "removed amiibo" tag before the
	// engine reports the real tag again.
	removedAmiiboFrames = 3
)

// readFillerLiteral is the unexplained 45-byte constant that appears in
// both the first read-burst frame and the write-ack frame; kept byte-for-
// byte per the only available reference, without claiming to know its
// meaning.
var readFillerLiteral = [45]byte{
	0x00, 0x00, 0x00, 0x00, 0x7D, 0xFD, 0xF0, 0x79, 0x36, 0x51,
	0xAB, 0xD7, 0x46, 0x6E, 0x39, 0xC1, 0x91, 0xBA, 0xBE, 0xB8,
	0x56, 0xCE, 0xED, 0xF1, 0xCE, 0x44, 0xCC, 0x75, 0xEA, 0xFB,
	0x27, 0x09, 0x4D, 0x08, 0x7A, 0xE8, 0x03, 0x00, 0x3B, 0x3C,
	0x77, 0x78, 0x86, 0x00, 0x00,
}

// Engine is one session's MCU/NFC state machine. It is safe for concurrent
// use: sub-command handlers call SetConfig/Received11/Power/SetPower from
// the reader's goroutine, and the writer loop calls GetData from its own.
type Engine struct {
	mu sync.Mutex

	power PowerState
	nfc   NFCState

	seqNo    byte
	ackSeqNo byte

	reassembly []byte

	lastPollUID   [7]byte
	havePollUID   bool
	removedFrames int
	readBurst     bool // a read burst is queued but not yet drained

	queue      [][mcuPayloadSize]byte
	noResponse [mcuPayloadSize]byte

	tag Tag

	logger *log.Logger
}

// New returns a freshly initialized engine in the Suspended power state.
func New(logger *log.Logger) *Engine {
	e := &Engine{power: Suspended, logger: logger}
	e.noResponse[0] = 0xFF
	report.SealMCU(&e.noResponse)
	return e
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// SetTag installs (or, with nil, removes) the currently inserted tag.
func (e *Engine) SetTag(t Tag) {
	e.mu.Lock()
	e.tag = t
	e.mu.Unlock()
}

// Power returns the current power state.
func (e *Engine) Power() PowerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.power
}

// SetPower implements the 0x22 SET_NFC_IR_MCU_STATE sub-command: v==0x00
// requests SUSPENDED, v==0x01 requests READY. Any other value is logged and
// forces READY.
func (e *Engine) SetPower(v byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch v {
	case 0x00:
		e.power = Suspended
	case 0x01:
		e.power = Ready
	default:
		e.logf("mcu: unknown set_power value %#x, forcing ready", v)
		e.power = Ready
	}
	e.nfc = NFCNone
}

// SetConfig implements the 0x21 SET_NFC_IR_MCU_CONFIG sub-command. nfcMode
// reports whether the console requested NFC mode (config data byte
// indicating NFC, as opposed to 0 meaning "none"). A config byte of 0 while
// SUSPENDED is a no-op, a workaround for the console's initial probe.
func (e *Engine) SetConfig(nfcMode bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.power == Suspended && !nfcMode {
		return
	}
	switch {
	case nfcMode && e.power == Ready:
		e.power = ConfiguredNFC
		e.nfc = NFCNone
	case !nfcMode && e.power == ConfiguredNFC:
		e.power = Ready
		e.nfc = NFCNone
	}
}

// EnteredReportMode31 implements "entered_0x31_mode": from any state the
// engine returns to READY and the response queue is flushed.
func (e *Engine) EnteredReportMode31() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.power = Ready
	e.nfc = NFCNone
	e.queue = nil
	e.readBurst = false
}

// Received11 handles an incoming 0x11 output report: subcmd is byte 11,
// data is bytes[12:]. subcmd 0x01 is a plain status request; subcmd 0x02
// carries the NFC command selector. Anything else is accepted but produces
// no reply.
func (e *Engine) Received11(subcmd byte, data []byte) {
	if subcmd == 0x01 {
		frame := e.NonNFCStatus()
		e.mu.Lock()
		e.queueResponse(frame)
		e.mu.Unlock()
		return
	}
	if subcmd != 0x02 || len(data) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.power != ConfiguredNFC {
		return
	}
	selector := data[0]
	switch selector {
	case 0x01:
		e.nfc = NFCPoll
	case 0x02:
		e.nfc = NFCNone
		e.havePollUID = false
	case 0x04:
		e.forceQueue(e.statusFrameLocked())
	case 0x06:
		e.handleReadOrWriteLocked(data[1:])
	case 0x08:
		e.handleWriteFragmentLocked(data[1:])
	default:
		e.logf("mcu: unknown nfc selector %#x", selector)
	}
}

// Poll advances the NFC polling state machine; called once per writer
// cadence tick while power == ConfiguredNFC. While in POLL with a tag
// present it enqueues a status frame on every call; POLL_AGAIN enqueues
// nothing.
func (e *Engine) Poll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.power != ConfiguredNFC {
		return
	}
	switch e.nfc {
	case NFCPoll:
		uid, present := e.tagUIDLocked()
		if !present {
			return
		}
		if e.havePollUID && uid == e.lastPollUID {
			e.nfc = NFCPollAgain
		}
		e.lastPollUID = uid
		e.havePollUID = true
		e.queueResponse(e.statusFrameLocked())
	case NFCPollAgain:
		uid, present := e.tagUIDLocked()
		if !present || uid != e.lastPollUID {
			e.nfc = NFCPoll
			e.havePollUID = false
		}
	}
}

// tagUIDLocked is a non-mutating peek at the UID that would currently be
// reported. During the removed-amiibo window after a completed write the
// tag reads back as a zeroed 540-byte tag: still present, but with an
// all-zero UID.
func (e *Engine) tagUIDLocked() (uid [7]byte, present bool) {
	if e.tag == nil {
		return uid, false
	}
	if e.removedFrames > 0 {
		return uid, true
	}
	return e.tag.UID(), true
}

// statusFrameLocked builds the fixed NFC status frame: header
// `2A 00 05 <seq> <ack_seq> 09 31 <nfc_state>`, with a UID block appended
// when a tag is present in an active NFC state. Each call is one "status
// emission" and consumes one tick of a pending removed-amiibo override.
func (e *Engine) statusFrameLocked() [mcuPayloadSize]byte {
	uid, present := e.tagUIDLocked()
	if e.removedFrames > 0 {
		e.removedFrames--
	}
	e.seqNo++
	var buf [mcuPayloadSize]byte
	copy(buf[:], []byte{0x2A, 0x00, 0x05, e.seqNo, e.ackSeqNo, 0x09, 0x31, byte(e.nfc)})
	switch e.nfc {
	case NFCPoll, NFCPollAgain, NFCAwaitingWrite, NFCWriting:
		if present {
			copy(buf[8:], []byte{0x00, 0x00, 0x00, 0x01, 0x01, 0x02, 0x00, 0x07})
			copy(buf[16:19], uid[0:3])
			copy(buf[19:23], uid[3:7])
		}
	}
	report.SealMCU(&buf)
	return buf
}

// handleReadOrWriteLocked implements the 0x06 selector: a zero UID starts a
// read burst, a nonzero UID (matching the current tag) starts a write.
func (e *Engine) handleReadOrWriteLocked(uidField []byte) {
	var uid [7]byte
	n := copy(uid[:], uidField)
	zero := true
	for _, b := range uid[:n] {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		e.startReadLocked()
		return
	}
	e.startWriteLocked(uid)
}

func (e *Engine) startReadLocked() {
	if e.readBurst && len(e.queue) > 0 {
		// The previous read burst hasn't drained yet.
		return
	}
	e.queue = nil
	e.readBurst = false
	tagUID, present := e.tagUIDLocked()
	if !present || e.tag == nil {
		return
	}
	data := e.tag.Data()
	if e.removedFrames > 0 {
		// The zeroed removed-amiibo tag reads back as all zeros.
		data = make([]byte, len(data))
	}

	var f1 [mcuPayloadSize]byte
	copy(f1[:], []byte{0x3A, 0x00, 0x07, 0x01, 0x00, 0x01, 0x31, 0x02, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x07})
	copy(f1[15:22], tagUID[:])
	copy(f1[22:67], readFillerLiteral[:])
	copy(f1[67:312], data[:min(245, len(data))])
	report.SealMCU(&f1)

	var f2 [mcuPayloadSize]byte
	copy(f2[:], []byte{0x3A, 0x00, 0x07, 0x02, 0x00, 0x09, 0x27})
	if len(data) > 245 {
		rest := data[245:min(540, len(data))]
		copy(f2[7:], rest)
	}
	report.SealMCU(&f2)

	var f3 [mcuPayloadSize]byte
	copy(f3[:], []byte{0x2A, 0x00, 0x05, 0x00, 0x00, 0x09, 0x31, 0x04, 0x00, 0x00, 0x00, 0x01, 0x01, 0x02, 0x00, 0x07})
	copy(f3[16:23], tagUID[:])
	report.SealMCU(&f3)

	e.forceQueue(f1, f2, f3)
	e.readBurst = true
}

func (e *Engine) startWriteLocked(uid [7]byte) {
	e.reassembly = nil
	e.ackSeqNo = 0
	e.nfc = NFCAwaitingWrite

	var ack [mcuPayloadSize]byte
	copy(ack[:], []byte{0x3A, 0x00, 0x07, 0x01, 0x00, 0x08, 0x40, 0x02, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x07})
	copy(ack[15:22], uid[:])
	copy(ack[22:67], readFillerLiteral[:])
	report.SealMCU(&ack)
	e.forceQueue(ack)
}

// handleWriteFragmentLocked implements the 0x08 selector: fragment is
// <seq><unused><end_flag><len><len bytes>.
func (e *Engine) handleWriteFragmentLocked(fragment []byte) {
	if len(fragment) < 4 {
		return
	}
	seq, endFlag, length := fragment[0], fragment[2], int(fragment[3])
	if len(fragment) < 4+length {
		return
	}
	payload := fragment[4 : 4+length]

	switch {
	case seq == e.ackSeqNo:
		// Duplicate of the last accepted fragment: idempotent, no-op.
	case seq == e.ackSeqNo+1:
		e.reassembly = append(e.reassembly, payload...)
		e.ackSeqNo = seq
	default:
		e.logf("mcu: out-of-order write fragment seq=%d ack=%d, aborting", seq, e.ackSeqNo)
		e.ackSeqNo = 0
		e.nfc = NFCNone
		return
	}

	e.nfc = NFCWriting
	if endFlag == 0x08 {
		e.ackSeqNo = 0
		buf := e.reassembly
		e.reassembly = nil
		if err := e.applyTagUpdateLocked(buf); err != nil {
			e.logf("mcu: tag update failed: %v", err)
		}
		e.removedFrames = removedAmiiboFrames
		e.nfc = NFCPoll
		e.havePollUID = false
	}
}

// applyTagUpdateLocked implements the write-fragment reassembly buffer's
// effect on the tag: buf[1] must be 0x07 (the UID-length marker), buf[13:17]
// is the transient write-lock value, the (addr, len, data) triples starting
// at offset 22 are applied in order until a zero addr or len terminates the
// list, and buf[17:21] is restored as the final lock value before saving.
func (e *Engine) applyTagUpdateLocked(buf []byte) error {
	if e.tag == nil {
		return fmt.Errorf("mcu: write completed with no tag present")
	}
	if len(buf) < 21 || buf[1] != 0x07 {
		return fmt.Errorf("mcu: malformed write buffer (len=%d)", len(buf))
	}
	var lock [4]byte
	copy(lock[:], buf[13:17])
	e.tag.SetLockBytes(lock)

	off := 22
	for off+2 <= len(buf) {
		addr := int(buf[off])
		length := int(buf[off+1])
		if addr == 0 || length == 0 {
			break
		}
		dataStart := off + 2
		if dataStart+length > len(buf) {
			break
		}
		if err := e.tag.WriteRegion(addr*4, buf[dataStart:dataStart+length]); err != nil {
			return err
		}
		off = dataStart + length
	}

	var final [4]byte
	copy(final[:], buf[17:21])
	e.tag.SetLockBytes(final)
	return e.tag.Save()
}

// NonNFCStatus implements sub-command 0x01's reply when power isn't NFC-
// related: `01 00 00 00 08 00 1B <power_byte>`, or noResponse (with a
// logged warning) while SUSPENDED.
func (e *Engine) NonNFCStatus() [mcuPayloadSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.power == Suspended {
		e.logf("mcu: status request while suspended")
		return e.noResponse
	}
	var buf [mcuPayloadSize]byte
	copy(buf[:], []byte{0x01, 0x00, 0x00, 0x00, 0x08, 0x00, 0x1B, byte(e.power)})
	report.SealMCU(&buf)
	return buf
}

// queueResponse enqueues a frame, dropping it if the queue is already at
// its bound of 4.
func (e *Engine) queueResponse(frame [mcuPayloadSize]byte) {
	if len(e.queue) >= 4 {
		e.logf("mcu: response queue full, dropping frame")
		return
	}
	e.queue = append(e.queue, frame)
}

// forceQueue enqueues frames unconditionally, bypassing the bound; used for
// the read burst and write-ack sequences, which must not be dropped.
func (e *Engine) forceQueue(frames ...[mcuPayloadSize]byte) {
	e.queue = append(e.queue, frames...)
}

// GetData is called once per writer-loop cadence tick: it pops the oldest
// queued response if any, else returns the cached no-response frame.
func (e *Engine) GetData() [mcuPayloadSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return e.noResponse
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	if len(e.queue) == 0 {
		e.readBurst = false
	}
	return next
}

