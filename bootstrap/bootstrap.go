//go:build linux

// Package bootstrap stands up the local adapter for pairing or
// reconnects to a previously paired console, and hands the resulting
// transport session to a freshly constructed protocol engine.
package bootstrap

import (
	"errors"
	"fmt"
	"log"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"joycontrol.dev/adapter"
	"joycontrol.dev/mcu"
	"joycontrol.dev/protocol"
	"joycontrol.dev/report"
	"joycontrol.dev/spiflash"
	"joycontrol.dev/state"
	"joycontrol.dev/transport"
)

// deviceClass is the fixed class-of-device for a gamepad peripheral.
const deviceClass = 0x002508

// Session is a fully wired controller session: the transport, the
// protocol engine, and the state the caller (CLI/harness) drives.
type Session struct {
	Transport *transport.Session
	Protocol  *protocol.Engine
	State     *state.Controller
	MCU       *mcu.Engine
	// Peer is the console's Bluetooth address, for the caller to remember
	// for future reconnection.
	Peer [6]byte
}

// deviceName returns the advertised Bluetooth name for a controller kind,
// matching the strings real consoles expect to see during pairing.
func deviceName(k state.Kind) string {
	switch k {
	case state.JoyConL:
		return "Joy-Con (L)"
	case state.JoyConR:
		return "Joy-Con (R)"
	default:
		return "Pro Controller"
	}
}

// Pair runs the initial-pairing bootstrap: adapter setup, SDP
// registration, discoverable/pairable, bind+listen+accept, then
// construction of the session, which it returns at once while the
// once-per-second empty 0x3F report emitter keeps nudging the console into
// its pairing flow until the first output report is observed.
func Pair(iface string, kind state.Kind, sdpRecordXML string, capture transport.CaptureSink, logger *log.Logger) (*Session, error) {
	a, err := adapter.Open(iface)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := a.SetName(deviceName(kind)); err != nil {
		return nil, err
	}
	if err := a.SetClass(deviceClass); err != nil {
		logf(logger, "bootstrap: set class: %v (continuing; BlueZ doesn't always allow this over D-Bus)", err)
	}
	if _, err := a.RegisterSDP(sdpRecordXML); err != nil {
		return nil, err
	}
	if err := a.SetPowered(true); err != nil {
		return nil, err
	}
	if err := a.SetPairable(true); err != nil {
		return nil, err
	}
	if err := a.SetDiscoverable(true); err != nil {
		return nil, err
	}

	local, err := a.Address()
	if err != nil {
		return nil, err
	}

	listener, err := listenWithFallback(local)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	ctrlFd, itrFd, peer, err := listener.Accept()
	if err != nil {
		return nil, err
	}

	if err := a.SetPairable(false); err != nil {
		logf(logger, "bootstrap: clear pairable: %v", err)
	}
	if err := a.SetDiscoverable(false); err != nil {
		logf(logger, "bootstrap: clear discoverable: %v", err)
	}

	return finish(ctrlFd, itrFd, local, peer, kind, capture, logger)
}

// listenWithFallback binds both PSMs to bdaddr, retrying against
// BDADDR_ANY (after restarting the system Bluetooth service) if the first
// attempt fails with EADDRINUSE, which usually means a stale bind left
// over from a previous run.
func listenWithFallback(bdaddr [6]byte) (*transport.Listener, error) {
	l, err := transport.Listen(bdaddr)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		return nil, err
	}
	if rerr := exec.Command("systemctl", "restart", "bluetooth").Run(); rerr != nil {
		return nil, fmt.Errorf("bootstrap: bind %v failed (%w) and bluetooth restart failed: %v", bdaddr, err, rerr)
	}
	var anyAddr [6]byte // BDADDR_ANY
	return transport.Listen(anyAddr)
}

// Reconnect dials a previously paired console directly, skipping the
// discoverable/pairable/accept dance.
func Reconnect(iface string, kind state.Kind, peer [6]byte, capture transport.CaptureSink, logger *log.Logger) (*Session, error) {
	a, err := adapter.Open(iface)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	local, err := a.Address()
	if err != nil {
		return nil, err
	}
	ctrlFd, itrFd, err := transport.Dial(local, peer)
	if err != nil {
		return nil, err
	}
	return finish(ctrlFd, itrFd, local, peer, kind, capture, logger)
}

// finish wires a freshly accepted/dialed pair of sockets into a complete
// session: opens the HCI monitor socket, constructs controller/MCU/
// protocol state, starts the reader loop, and emits empty 0x3F reports
// once per second until the first output report arrives.
func finish(ctrlFd, itrFd int, local, peer [6]byte, kind state.Kind, capture transport.CaptureSink, logger *log.Logger) (*Session, error) {
	hciFd, err := transport.OpenHCIEventSocket(0)
	if err != nil {
		logf(logger, "bootstrap: hci monitor unavailable: %v (flow control disabled)", err)
		hciFd = -1
	}
	sess := transport.NewSession(ctrlFd, itrFd, hciFd, capture, logger)

	ctrl := state.New(kind)
	flash := spiflash.New()
	mcuEngine := mcu.New(logger)
	eng := protocol.New(ctrl, flash, mcuEngine, local, logger)

	firstReport := make(chan struct{})
	go func() {
		first := true
		sess.ReadLoop(func(b []byte) {
			if first {
				first = false
				close(firstReport)
			}
			eng.ReportReceived(b, sess)
		})
		eng.ConnectionLost()
	}()

	go emitPrePairingReports(sess, firstReport)

	return &Session{Transport: sess, Protocol: eng, State: ctrl, MCU: mcuEngine, Peer: peer}, nil
}

// emitPrePairingReports sends an empty 0x3F input report once per second
// until the first output report arrives, triggering the console's pairing
// flow.
func emitPrePairingReports(w protocol.Writer, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			buf := report.Input(report.InputSimple, 0, report.Buttons{}, report.Stick{}, report.Stick{}, nil, nil)
			if err := w.Write(buf); err != nil {
				return
			}
		}
	}
}

func logf(logger *log.Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
