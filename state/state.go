// Package state holds the mutable controller state shared between the CLI
// (or any other external driver) and the protocol engine's writer loop:
// button state, the two analog sticks, the current NFC tag handle, and the
// send/connect synchronization signals described in the report package's
// sibling protocol engine.
package state

import (
	"errors"
	"fmt"
	"sync"
)

// Kind is the controller identity, fixed for the lifetime of a session.
type Kind byte

const (
	JoyConL       Kind = 0x01
	JoyConR       Kind = 0x02
	ProController Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case JoyConL:
		return "Joy-Con (L)"
	case JoyConR:
		return "Joy-Con (R)"
	case ProController:
		return "Pro Controller"
	default:
		return fmt.Sprintf("Kind(%#x)", byte(k))
	}
}

// HasLeftStick and HasRightStick report whether a controller kind exposes
// the given analog stick.
func (k Kind) HasLeftStick() bool  { return k == JoyConL || k == ProController }
func (k Kind) HasRightStick() bool { return k == JoyConR || k == ProController }

// ButtonID names a single button bit in the 3-byte button layout. The
// numeric value is (byte_index<<3 | bit_index), matching the bit layout
// table in the button-state section of the wire format.
type ButtonID byte

// Byte 1.
const (
	Y ButtonID = iota
	X
	B
	A
	SRRight
	SLRight
	R
	ZR
)

// Byte 2.
const (
	MinusID ButtonID = 8 + iota
	Plus
	RStick
	LStick
	Home
	Capture
)

// Byte 3.
const (
	Down ButtonID = 16 + iota
	Up
	Right
	Left
	SLLeft
	SRLeft
	L
	ZL
)

func (b ButtonID) byteIndex() int { return int(b) >> 3 }
func (b ButtonID) bitIndex() uint { return uint(b) & 7 }

var buttonNames = map[ButtonID]string{
	Y: "y", X: "x", B: "b", A: "a",
	SRRight: "sr_r", SLRight: "sl_r", R: "r", ZR: "zr",
	MinusID: "minus", Plus: "plus", RStick: "r_stick", LStick: "l_stick",
	Home: "home", Capture: "capture",
	Down: "down", Up: "up", Right: "right", Left: "left",
	SLLeft: "sl_l", SRLeft: "sr_l", L: "l", ZL: "zl",
}

var namesToButton = func() map[string]ButtonID {
	m := make(map[string]ButtonID, len(buttonNames))
	for id, name := range buttonNames {
		m[name] = id
	}
	return m
}()

// String returns the button's canonical lowercase name, or a numeric
// placeholder if it isn't one of the 22 named bits.
func (b ButtonID) String() string {
	if name, ok := buttonNames[b]; ok {
		return name
	}
	return fmt.Sprintf("button(%d)", byte(b))
}

// ButtonByName looks up a ButtonID by its canonical name (the tokens
// recognized by the line-oriented CLI). ok is false for unrecognized names.
func ButtonByName(name string) (ButtonID, bool) {
	id, ok := namesToButton[name]
	return id, ok
}

// availableButtons is the bitmask, per byte, of buttons a given controller
// kind can set. Joy-Con rail buttons (SR/SL on each side) only exist on the
// matching Joy-Con; Minus/L-stick/Capture/Left-stick-direction buttons only
// exist where the corresponding half of the controller does.
func availableButtons(k Kind) [3]byte {
	switch k {
	case ProController:
		return [3]byte{
			bit(Y) | bit(X) | bit(B) | bit(A) | bit(R) | bit(ZR),
			bit(MinusID) | bit(Plus) | bit(RStick) | bit(LStick) | bit(Home) | bit(Capture),
			bit(Down) | bit(Up) | bit(Right) | bit(Left) | bit(L) | bit(ZL),
		}
	case JoyConR:
		return [3]byte{
			bit(Y) | bit(X) | bit(B) | bit(A) | bit(SRRight) | bit(SLRight) | bit(R) | bit(ZR),
			bit(Plus) | bit(RStick) | bit(Home),
			0,
		}
	case JoyConL:
		return [3]byte{
			0,
			bit(MinusID) | bit(LStick) | bit(Capture),
			bit(Down) | bit(Up) | bit(Right) | bit(Left) | bit(SLLeft) | bit(SRLeft) | bit(L) | bit(ZL),
		}
	default:
		return [3]byte{}
	}
}

func bit(id ButtonID) byte { return 1 << id.bitIndex() }

// GripMenuExitMask returns the controller-kind-specific button mask the
// writer loop checks against a freshly packed button triple to decide
// whether to leave grip-menu cadence (see the protocol package).
func GripMenuExitMask(k Kind) [3]byte {
	switch k {
	case ProController:
		return [3]byte{bit(A) | bit(B), bit(Home), 0}
	case JoyConR:
		return [3]byte{bit(A), bit(Home), 0}
	case JoyConL:
		return [3]byte{0, 0, bit(Down) | bit(Left)}
	default:
		return [3]byte{}
	}
}

// ErrButtonUnavailable is returned by Buttons.Set when the button doesn't
// exist on the controller kind the state was created for.
var ErrButtonUnavailable = errors.New("state: button not available on this controller kind")

// Buttons is the packed, kind-validated button state.
type Buttons struct {
	kind  Kind
	mask  [3]byte
	bytes [3]byte
}

// NewButtons returns a zeroed button state for the given controller kind.
func NewButtons(k Kind) *Buttons {
	return &Buttons{kind: k, mask: availableButtons(k)}
}

// Set assigns a button's pressed state. It returns ErrButtonUnavailable if
// the button doesn't exist on this controller kind.
func (s *Buttons) Set(id ButtonID, pressed bool) error {
	i, m := id.byteIndex(), bit(id)
	if i < 0 || i > 2 || s.mask[i]&m == 0 {
		return fmt.Errorf("%w: %s on %s", ErrButtonUnavailable, id, s.kind)
	}
	if pressed {
		s.bytes[i] |= m
	} else {
		s.bytes[i] &^= m
	}
	return nil
}

// Get reports a button's current pressed state. Unavailable buttons always
// read as false.
func (s *Buttons) Get(id ButtonID) bool {
	i, m := id.byteIndex(), bit(id)
	if i < 0 || i > 2 {
		return false
	}
	return s.bytes[i]&m != 0
}

// Available reports whether the button exists on this controller kind.
func (s *Buttons) Available(id ButtonID) bool {
	i, m := id.byteIndex(), bit(id)
	return i >= 0 && i <= 2 && s.mask[i]&m != 0
}

// Bytes returns the packed 3-byte wire representation.
func (s *Buttons) Bytes() [3]byte { return s.bytes }

// Stick is a mutable left or right analog stick.
type Stick struct {
	mu   sync.Mutex
	h, v uint16
}

// Center returns a stick initialized to the nominal dead-center position.
func Center() *Stick { return &Stick{h: 0x800, v: 0x800} }

// Set assigns the stick position. h and v must be in [0, 0x1000).
func (s *Stick) Set(h, v uint16) error {
	if h >= 0x1000 || v >= 0x1000 {
		return fmt.Errorf("state: stick value out of range: h=%#x v=%#x", h, v)
	}
	s.mu.Lock()
	s.h, s.v = h, v
	s.mu.Unlock()
	return nil
}

// Get returns the current (h, v) position.
func (s *Stick) Get() (h, v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h, s.v
}

// NFCHandle is a reference to the currently inserted NFC tag, held here so
// the MCU engine and the CLI's "nfc" command can both reach it without
// either owning the other's lifecycle.
type NFCHandle struct {
	mu  sync.Mutex
	tag interface{}
}

// Set installs (or, with nil, removes) the current tag.
func (n *NFCHandle) Set(tag interface{}) {
	n.mu.Lock()
	n.tag = tag
	n.mu.Unlock()
}

// Get returns the current tag, or nil if none is present.
func (n *NFCHandle) Get() interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tag
}

// ErrNotConnected is returned by Send when the transport is torn down while
// a caller is waiting for an acknowledging writer emission.
var ErrNotConnected = errors.New("state: not connected")

// Controller bundles a session's full mutable state plus its
// synchronization signals: connected reports whether the underlying
// transport is alive, pendingAck is cleared by Send and closed (once) by
// the writer loop after emitting a report, and ready is closed once the
// console has issued its first SET_PLAYER_LIGHTS sub-command.
type Controller struct {
	Kind    Kind
	Buttons *Buttons
	Left    *Stick // nil if !Kind.HasLeftStick()
	Right   *Stick // nil if !Kind.HasRightStick()
	NFC     NFCHandle

	mu         sync.Mutex
	closed     bool
	pendingAck chan struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a fresh per-session controller state.
func New(k Kind) *Controller {
	c := &Controller{
		Kind:       k,
		Buttons:    NewButtons(k),
		pendingAck: make(chan struct{}),
		ready:      make(chan struct{}),
	}
	if k.HasLeftStick() {
		c.Left = Center()
	}
	if k.HasRightStick() {
		c.Right = Center()
	}
	return c
}

// Send clears the pending-send signal, waits for the writer loop's next
// emission (via Acknowledge), and returns. It returns ErrNotConnected if
// the transport closes first.
func (c *Controller) Send() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ch := c.pendingAck
	c.mu.Unlock()
	<-ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	return nil
}

// Acknowledge is called by the writer loop after each successful report
// emission; it wakes every Send caller currently waiting.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	close(c.pendingAck)
	c.pendingAck = make(chan struct{})
}

// Close tears down the controller state: it is idempotent, and wakes every
// blocked Send caller with ErrNotConnected.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.pendingAck)
}

// MarkReady signals that the console has issued its first SET_PLAYER_LIGHTS
// sub-command, waking every Connect caller. Safe to call more than once.
func (c *Controller) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Connect waits for MarkReady to have been called at least once.
func (c *Controller) Connect() {
	<-c.ready
}
