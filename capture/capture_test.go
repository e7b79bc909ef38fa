//go:build linux

package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"joycontrol.dev/transport"
)

func TestCaptureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")
	f, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Capture(transport.DirRead, []byte{0xA2, 0x01, 0x02})
	f.Capture(transport.DirWrite, []byte{0xA1, 0x30})
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	records, err := ReadAll(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !bytes.Equal(records[0].Payload, []byte{0xA2, 0x01, 0x02}) {
		t.Fatalf("record 0 payload = %x", records[0].Payload)
	}
	if !bytes.Equal(records[1].Payload, []byte{0xA1, 0x30}) {
		t.Fatalf("record 1 payload = %x", records[1].Payload)
	}
	if records[1].Timestamp < records[0].Timestamp {
		t.Fatalf("timestamps should be non-decreasing")
	}
}
