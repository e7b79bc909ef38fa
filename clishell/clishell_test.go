package clishell

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"joycontrol.dev/amiibo"
	"joycontrol.dev/mcu"
	"joycontrol.dev/state"
)

// ackAsync keeps a controller's Send() calls from blocking forever in
// tests by acknowledging every pending send on its own goroutine, as the
// protocol engine's writer loop would.
func ackAsync(t *testing.T, c *state.Controller) func() {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Acknowledge()
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func TestPressButtonPressesAndReleases(t *testing.T) {
	c := state.New(state.ProController)
	defer ackAsync(t, c)()
	var out bytes.Buffer
	sh := New(c, mcu.New(nil), &out)

	if err := sh.RunLine("a"); err != nil {
		t.Fatal(err)
	}
	if c.Buttons.Get(state.A) {
		t.Fatal("button should be released after a momentary press command")
	}
}

func TestHoldAndRelease(t *testing.T) {
	c := state.New(state.ProController)
	sh := New(c, mcu.New(nil), nil)

	if err := sh.RunLine("hold a b"); err != nil {
		t.Fatal(err)
	}
	if !c.Buttons.Get(state.A) || !c.Buttons.Get(state.B) {
		t.Fatal("hold should leave buttons pressed")
	}
	if err := sh.RunLine("release a"); err != nil {
		t.Fatal(err)
	}
	if c.Buttons.Get(state.A) {
		t.Fatal("release should clear the button")
	}
	if !c.Buttons.Get(state.B) {
		t.Fatal("release should not affect other buttons")
	}
}

func TestAmpAmpChaining(t *testing.T) {
	c := state.New(state.ProController)
	sh := New(c, mcu.New(nil), nil)
	if err := sh.RunLine("hold a && hold b"); err != nil {
		t.Fatal(err)
	}
	if !c.Buttons.Get(state.A) || !c.Buttons.Get(state.B) {
		t.Fatal("both chained commands should have run")
	}
}

func TestStickCenterUpDown(t *testing.T) {
	c := state.New(state.ProController)
	sh := New(c, mcu.New(nil), nil)
	if err := sh.RunLine("stick l up"); err != nil {
		t.Fatal(err)
	}
	_, v := c.Left.Get()
	if v != 0xFFF {
		t.Fatalf("stick l up: v = %#x, want 0xFFF", v)
	}
	if err := sh.RunLine("stick l h 100"); err != nil {
		t.Fatal(err)
	}
	h, _ := c.Left.Get()
	if h != 100 {
		t.Fatalf("stick l h 100: h = %d, want 100", h)
	}
}

func TestStickRejectsMissingSide(t *testing.T) {
	c := state.New(state.JoyConR) // no left stick
	sh := New(c, mcu.New(nil), nil)
	if err := sh.RunLine("stick l center"); err == nil {
		t.Fatal("expected error requesting a stick this kind doesn't have")
	}
}

func TestNFCLoadAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tag.bin")
	if err := os.WriteFile(path, make([]byte, amiibo.DataSize), 0o644); err != nil {
		t.Fatal(err)
	}
	c := state.New(state.ProController)
	m := mcu.New(nil)
	sh := New(c, m, nil)

	if err := sh.RunLine("nfc " + path); err != nil {
		t.Fatal(err)
	}
	if c.NFC.Get() == nil {
		t.Fatal("expected a tag to be inserted")
	}
	if err := sh.RunLine("nfc remove"); err != nil {
		t.Fatal(err)
	}
	if c.NFC.Get() != nil {
		t.Fatal("expected tag to be removed")
	}
}

func TestExitStopsRun(t *testing.T) {
	c := state.New(state.ProController)
	sh := New(c, mcu.New(nil), nil)
	r := bytesReader("hold a\nexit\nhold b\n")
	if err := sh.Run(r); err != nil {
		t.Fatal(err)
	}
	if !c.Buttons.Get(state.A) {
		t.Fatal("command before exit should have run")
	}
	if c.Buttons.Get(state.B) {
		t.Fatal("command after exit should not have run")
	}
}

func TestUnrecognizedCommandReported(t *testing.T) {
	c := state.New(state.ProController)
	sh := New(c, mcu.New(nil), nil)
	if err := sh.RunLine("not_a_real_button"); err == nil {
		t.Fatal("expected error for unrecognized command")
	}
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
