//go:build linux

// Package transport owns the two Bluetooth L2CAP sockets that make up a
// connected controller session (control PSM 17, interrupt PSM 19), the
// HCI monitor that paces writes to the link's completed-packet window,
// and an optional capture sink for offline replay.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// L2CAP PSMs used by the HID-over-L2CAP profile the console expects.
const (
	PSMControl   = 17
	PSMInterrupt = 19
)

// defaultFlowWindow mirrors the controller's host-to-controller buffer
// depth: the console's HCI_Number_Of_Completed_Packets accounting starts
// here and is replenished as packets drain.
const defaultFlowWindow = 4

// lowSlotThreshold is the point at which the link monitor pauses writes:
// below this many free slots the controller backs off rather than racing
// the connection event.
const lowSlotThreshold = 5

const backoffDelay = time.Second

// Direction tags a captured report.
type Direction byte

const (
	DirRead Direction = iota
	DirWrite
)

// CaptureSink receives every report read from or written to the
// interrupt channel, in stream order.
type CaptureSink interface {
	Capture(dir Direction, b []byte)
}

var ErrClosed = errors.New("transport: session closed")

// Session owns one connected controller's control and interrupt L2CAP
// sockets. Reports are read and written over the interrupt socket; the
// control socket is held open but otherwise idle, matching how real
// Joy-Cons use it.
type Session struct {
	ctrlFd, itrFd int
	hciFd         int // < 0 disables the HCI monitor (e.g. in tests)
	capture       CaptureSink
	logger        *log.Logger

	sem chan struct{} // one token per free controller-side buffer slot

	mu       sync.Mutex
	paused   bool
	unpaused chan struct{} // closed while writing is allowed
	closed   bool
	done     chan struct{}
}

// NewSession wraps already-connected control and interrupt socket file
// descriptors. hciFd is the raw HCI event socket for the underlying
// adapter; pass -1 to disable flow-window tracking (tests, or adapters
// where the kernel already throttles writes).
func NewSession(ctrlFd, itrFd, hciFd int, capture CaptureSink, logger *log.Logger) *Session {
	s := &Session{
		ctrlFd:  ctrlFd,
		itrFd:   itrFd,
		hciFd:   hciFd,
		capture: capture,
		logger:  logger,
		sem:     make(chan struct{}, defaultFlowWindow),
		done:    make(chan struct{}),
	}
	s.unpaused = make(chan struct{})
	close(s.unpaused)
	for i := 0; i < defaultFlowWindow; i++ {
		s.sem <- struct{}{}
	}
	if hciFd >= 0 {
		go s.monitorHCI()
	}
	return s
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Write sends one report over the interrupt channel, blocking until the
// link has a free completed-packet slot and writing is not paused by the
// link-state monitor.
func (s *Session) Write(b []byte) error {
	select {
	case <-s.sem:
	case <-s.done:
		return ErrClosed
	}
	s.mu.Lock()
	gate := s.unpaused
	s.mu.Unlock()
	select {
	case <-gate:
	case <-s.done:
		select {
		case s.sem <- struct{}{}:
		default:
		}
		return ErrClosed
	}
	n, err := unix.Write(s.itrFd, b)
	if err != nil {
		// The write failed outright: return its slot, the packet never
		// consumed a completed-packet credit.
		select {
		case s.sem <- struct{}{}:
		default:
		}
		return fmt.Errorf("transport: write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("transport: short write: %d of %d bytes", n, len(b))
	}
	if s.capture != nil {
		s.capture.Capture(DirWrite, b)
	}
	return nil
}

// ReadLoop reads output reports from the interrupt channel and invokes
// handle for each, until the socket closes or an unrecoverable error
// occurs.
func (s *Session) ReadLoop(handle func(b []byte)) error {
	buf := make([]byte, 1024)
	for {
		n, err := unix.Read(s.itrFd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		if n == 0 {
			return nil
		}
		report := append([]byte(nil), buf[:n]...)
		if s.capture != nil {
			s.capture.Capture(DirRead, report)
		}
		handle(report)
	}
}

// Close releases both sockets. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)

	var errs []error
	if err := unix.Close(s.itrFd); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(s.ctrlFd); err != nil {
		errs = append(errs, err)
	}
	if s.hciFd >= 0 {
		if err := unix.Close(s.hciFd); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// HCI event codes this monitor cares about.
const (
	eventNumCompletedPackets = 0x13
	eventMaxSlotsChange      = 0x1B
)

// monitorHCI watches the adapter's raw HCI event socket, replenishing the
// write semaphore as the console reports completed packets and pausing
// writes briefly when the link is reported to have few slots free.
func (s *Session) monitorHCI() {
	buf := make([]byte, 260)
	for {
		n, err := unix.Read(s.hciFd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.logf("transport: hci monitor: %v", err)
			return
		}
		pkt := buf[:n]
		// Raw HCI event packets begin with the packet-type octet
		// (0x04), the event code, and a one-byte parameter length.
		if len(pkt) < 3 || pkt[0] != 0x04 {
			continue
		}
		code := pkt[1]
		params := pkt[3:]
		switch code {
		case eventNumCompletedPackets:
			s.handleCompletedPackets(params)
		case eventMaxSlotsChange:
			s.handleMaxSlotsChange(params)
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// handleCompletedPackets parses a Number_Of_Completed_Packets event
// (Num_Handles, then per-handle Connection_Handle and Num_Completed
// Packets pairs) and returns that many tokens to the write semaphore.
func (s *Session) handleCompletedPackets(params []byte) {
	if len(params) < 1 {
		return
	}
	numHandles := int(params[0])
	params = params[1:]
	const entrySize = 4 // 2-byte handle + 2-byte completed count
	for i := 0; i < numHandles && len(params) >= entrySize; i++ {
		completed := binary.LittleEndian.Uint16(params[2:4])
		params = params[entrySize:]
		for j := uint16(0); j < completed; j++ {
			select {
			case s.sem <- struct{}{}:
			default:
				// Semaphore already full; the adapter over-reported.
			}
		}
	}
	if s.resume() {
		s.logf("transport: link resumed")
	}
}

// resume lifts a write pause, if one is in effect, and reports whether it
// did.
func (s *Session) resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false
	}
	s.paused = false
	close(s.unpaused)
	return true
}

// handleMaxSlotsChange reads the event's free-slot count and, if it has
// dropped below the low-water mark, pauses writes for the backoff delay.
// A completed-packets event that arrives before the delay expires lifts the
// pause too.
func (s *Session) handleMaxSlotsChange(params []byte) {
	if len(params) < 3 {
		return
	}
	slots := int(params[2])
	if slots >= lowSlotThreshold {
		return
	}
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.unpaused = make(chan struct{})
	s.mu.Unlock()
	s.logf("transport: link reports %d free slots, pausing writes", slots)
	go func() {
		select {
		case <-time.After(backoffDelay):
		case <-s.done:
			return
		}
		if s.resume() {
			s.logf("transport: write pause expired, resuming")
		}
	}()
}

// socket opens an L2CAP SEQPACKET socket bound to psm on the given
// adapter address, ready to Listen/Accept.
func socket(psm uint16, bdaddr [6]byte) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return -1, fmt.Errorf("transport: socket: %w", err)
	}
	addr := &unix.SockaddrL2{PSM: psm, Addr: bdaddr}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: bind psm %d: %w", psm, err)
	}
	return fd, nil
}

// Listener listens for an incoming controller connection on both the
// control and interrupt PSMs.
type Listener struct {
	ctrlFd, itrFd int
}

// Listen binds and listens on the control and interrupt PSMs of the
// local adapter identified by bdaddr (its own address; BDADDR_ANY's zero
// value binds to any adapter).
func Listen(bdaddr [6]byte) (*Listener, error) {
	ctrlFd, err := socket(PSMControl, bdaddr)
	if err != nil {
		return nil, err
	}
	itrFd, err := socket(PSMInterrupt, bdaddr)
	if err != nil {
		unix.Close(ctrlFd)
		return nil, err
	}
	if err := unix.Listen(ctrlFd, 1); err != nil {
		unix.Close(ctrlFd)
		unix.Close(itrFd)
		return nil, fmt.Errorf("transport: listen ctrl: %w", err)
	}
	if err := unix.Listen(itrFd, 1); err != nil {
		unix.Close(ctrlFd)
		unix.Close(itrFd)
		return nil, fmt.Errorf("transport: listen itr: %w", err)
	}
	return &Listener{ctrlFd: ctrlFd, itrFd: itrFd}, nil
}

// ErrPeerMismatch is returned by Accept when the control and interrupt
// channels were opened by different peer addresses, which would indicate
// two different consoles racing the same bootstrap session.
var ErrPeerMismatch = errors.New("transport: control and interrupt channel peers differ")

// Accept blocks for the console to open both channels, control first, and
// returns the connected peer's address plus the two accepted sockets. It
// fails with ErrPeerMismatch if the two channels report different peer
// addresses.
func (l *Listener) Accept() (ctrlFd, itrFd int, peer [6]byte, err error) {
	cfd, csa, err := unix.Accept(l.ctrlFd)
	if err != nil {
		return -1, -1, peer, fmt.Errorf("transport: accept ctrl: %w", err)
	}
	ifd, isa, err := unix.Accept(l.itrFd)
	if err != nil {
		unix.Close(cfd)
		return -1, -1, peer, fmt.Errorf("transport: accept itr: %w", err)
	}
	var ctrlPeer, itrPeer [6]byte
	if l2, ok := csa.(*unix.SockaddrL2); ok {
		ctrlPeer = l2.Addr
	}
	if l2, ok := isa.(*unix.SockaddrL2); ok {
		itrPeer = l2.Addr
	}
	if ctrlPeer != itrPeer {
		unix.Close(cfd)
		unix.Close(ifd)
		return -1, -1, peer, ErrPeerMismatch
	}
	return cfd, ifd, ctrlPeer, nil
}

// Close releases the listening sockets.
func (l *Listener) Close() error {
	err1 := unix.Close(l.ctrlFd)
	err2 := unix.Close(l.itrFd)
	if err1 != nil {
		return err1
	}
	return err2
}

// Dial opens the control and interrupt channels to a previously paired
// console at addr, for the reconnection bootstrap path: local is bound to
// the local adapter's own address, addr is the remote console.
func Dial(local, addr [6]byte) (ctrlFd, itrFd int, err error) {
	cfd, err := connect(PSMControl, local, addr)
	if err != nil {
		return -1, -1, err
	}
	ifd, err := connect(PSMInterrupt, local, addr)
	if err != nil {
		unix.Close(cfd)
		return -1, -1, err
	}
	return cfd, ifd, nil
}

func connect(psm uint16, local, addr [6]byte) (int, error) {
	fd, err := socket(psm, local)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, &unix.SockaddrL2{PSM: psm, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: connect psm %d: %w", psm, err)
	}
	return fd, nil
}

// OpenHCIEventSocket opens a raw HCI socket on the given adapter device
// (0 for hci0) and installs a filter that passes only the events the
// flow/link monitor needs.
func OpenHCIEventSocket(devID uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return -1, fmt.Errorf("transport: hci socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrHCI{Dev: devID, Channel: unix.HCI_CHANNEL_RAW}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: hci bind: %w", err)
	}
	// struct hci_filter { uint32 type_mask; uint32 event_mask[2]; uint16 opcode; }
	var filter [14]byte
	const hciEventPkt = 0x04
	binary.LittleEndian.PutUint32(filter[0:4], 1<<hciEventPkt)
	setBit := func(mask []byte, bit uint) {
		mask[bit/8] |= 1 << (bit % 8)
	}
	setBit(filter[4:12], eventNumCompletedPackets)
	setBit(filter[4:12], eventMaxSlotsChange)
	const solHCI = 0
	const hciFilter = 2
	if err := unix.SetsockoptString(fd, solHCI, hciFilter, string(filter[:])); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: hci setsockopt filter: %w", err)
	}
	return fd, nil
}
