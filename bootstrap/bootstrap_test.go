//go:build linux

package bootstrap

import (
	"strings"
	"testing"

	"joycontrol.dev/state"
)

func TestDeviceNamePerKind(t *testing.T) {
	cases := map[state.Kind]string{
		state.JoyConL:       "Joy-Con (L)",
		state.JoyConR:       "Joy-Con (R)",
		state.ProController: "Pro Controller",
	}
	for kind, want := range cases {
		if got := deviceName(kind); got != want {
			t.Errorf("deviceName(%v) = %q, want %q", kind, got, want)
		}
	}
}

func TestSDPRecordEmbedsName(t *testing.T) {
	xml := SDPRecord("Pro Controller")
	if !strings.Contains(xml, "Pro Controller") {
		t.Fatalf("SDP record doesn't mention the device name: %s", xml)
	}
	if !strings.Contains(xml, "0x1124") {
		t.Fatalf("SDP record missing HID service UUID")
	}
}
