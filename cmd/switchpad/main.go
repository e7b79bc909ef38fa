//go:build linux

// command switchpad emulates a Switch controller over Bluetooth and
// drives it from a line-oriented CLI on stdin.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"joycontrol.dev/bootstrap"
	"joycontrol.dev/capture"
	"joycontrol.dev/clishell"
	"joycontrol.dev/pairing"
	"joycontrol.dev/state"
	"joycontrol.dev/statusled"
	"joycontrol.dev/transport"
)

var (
	kindFlag      = flag.String("kind", "pro", "controller kind: pro, joycon_l, joycon_r")
	ifaceFlag     = flag.String("adapter", "hci0", "local Bluetooth adapter interface")
	reconnectFlag = flag.Bool("reconnect", false, "reconnect to a previously paired console instead of pairing fresh")
	consoleFlag   = flag.String("console", "", "console address to reconnect to, e.g. 04:88:CA:A5:62:5F (required with -reconnect)")
	capturePath   = flag.String("capture", "", "write a capture file of every report read/written")
	pairingFile   = flag.String("pairing-db", defaultPairingPath(), "path to the paired-console record file")
	ledPin        = flag.String("status-led", "GPIO25", "GPIO pin for the pairing-status LED (no-op off a Pi)")
)

func defaultPairingPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "switchpad-pairing.cbor"
	}
	return filepath.Join(dir, "switchpad", "pairing.cbor")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switchpad: %v\n", err)
		os.Exit(1)
	}
}

func parseKind(s string) (state.Kind, error) {
	switch s {
	case "pro":
		return state.ProController, nil
	case "joycon_l":
		return state.JoyConL, nil
	case "joycon_r":
		return state.JoyConR, nil
	default:
		return 0, fmt.Errorf("-kind must be one of pro, joycon_l, joycon_r, got %q", s)
	}
}

func run() error {
	kind, err := parseKind(*kindFlag)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*pairingFile), 0o755); err != nil {
		return err
	}
	store, err := pairing.Open(*pairingFile)
	if err != nil {
		return err
	}

	var sink *capture.File
	if *capturePath != "" {
		sink, err = capture.Create(*capturePath)
		if err != nil {
			return err
		}
		defer sink.Close()
	}
	// A nil *capture.File assigned to the transport.CaptureSink interface
	// would be a non-nil interface holding a nil pointer, which the
	// transport's "capture != nil" checks would wrongly treat as present;
	// pass a genuinely nil interface value when no sink was requested.
	var capSink transport.CaptureSink
	if sink != nil {
		capSink = sink
	}

	led := statusled.Open(*ledPin)
	defer led.Close()

	var sess *bootstrap.Session
	if *reconnectFlag {
		peer, err := parseAddress(*consoleFlag)
		if err != nil {
			return fmt.Errorf("-console: %w", err)
		}
		if rec, ok := store.Lookup(peer); ok {
			log.Printf("switchpad: reconnecting to %s (paired as %q)", pairing.FormatAddress(peer), rec.DeviceName)
		}
		led.Set(statusled.Connecting)
		sess, err = bootstrap.Reconnect(*ifaceFlag, kind, peer, capSink, nil)
		if err != nil {
			return err
		}
	} else {
		led.Set(statusled.Waiting)
		sess, err = bootstrap.Pair(*ifaceFlag, kind, bootstrap.SDPRecord(deviceNameFor(kind)), capSink, nil)
		if err != nil {
			return err
		}
	}
	defer sess.Transport.Close()
	led.Set(statusled.Paired)

	if err := store.Remember(pairing.Record{Address: sess.Peer, ControllerKind: byte(kind), DeviceName: deviceNameFor(kind)}); err != nil {
		log.Printf("switchpad: failed to persist pairing record: %v", err)
	}

	sh := clishell.New(sess.State, sess.MCU, os.Stdout)
	log.Printf("switchpad: connected to %s; type 'help' for the command grammar", pairing.FormatAddress(sess.Peer))
	return sh.Run(os.Stdin)
}

func parseAddress(s string) ([6]byte, error) {
	var out [6]byte
	if s == "" {
		return out, fmt.Errorf("address required")
	}
	n, err := fmt.Sscanf(s, "%02X:%02X:%02X:%02X:%02X:%02X",
		&out[0], &out[1], &out[2], &out[3], &out[4], &out[5])
	if err != nil || n != 6 {
		return out, fmt.Errorf("malformed address %q", s)
	}
	return out, nil
}

func deviceNameFor(k state.Kind) string {
	switch k {
	case state.JoyConL:
		return "Joy-Con (L)"
	case state.JoyConR:
		return "Joy-Con (R)"
	default:
		return "Pro Controller"
	}
}
