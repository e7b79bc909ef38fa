package state

import "testing"

func TestButtonAvailabilityPerKind(t *testing.T) {
	cases := []struct {
		kind      Kind
		available []ButtonID
		denied    []ButtonID
	}{
		{ProController, []ButtonID{A, B, Home, L, ZL, R, ZR, MinusID, Plus}, []ButtonID{SRRight, SLRight, SLLeft, SRLeft}},
		{JoyConR, []ButtonID{Y, X, B, A, SRRight, SLRight, R, ZR, Plus, RStick, Home}, []ButtonID{L, ZL, Down, Up, MinusID, Capture}},
		{JoyConL, []ButtonID{Down, Up, Right, Left, SLLeft, SRLeft, L, ZL, MinusID, LStick, Capture}, []ButtonID{Y, X, B, A, R, ZR, Plus, Home}},
	}
	for _, c := range cases {
		b := NewButtons(c.kind)
		for _, id := range c.available {
			if !b.Available(id) {
				t.Errorf("%s: expected %s available", c.kind, id)
			}
			if err := b.Set(id, true); err != nil {
				t.Errorf("%s: Set(%s) failed: %v", c.kind, id, err)
			}
			if !b.Get(id) {
				t.Errorf("%s: Get(%s) false after Set(true)", c.kind, id)
			}
		}
		for _, id := range c.denied {
			if b.Available(id) {
				t.Errorf("%s: expected %s unavailable", c.kind, id)
			}
			if err := b.Set(id, true); err == nil {
				t.Errorf("%s: Set(%s) should have failed", c.kind, id)
			}
		}
	}
}

func TestButtonByteEncodingBijection(t *testing.T) {
	b := NewButtons(ProController)
	all := []ButtonID{Y, X, B, A, R, ZR, MinusID, Plus, RStick, LStick, Home, Capture, Down, Up, Right, Left, L, ZL}
	for _, id := range all {
		if err := b.Set(id, true); err != nil {
			t.Fatalf("Set(%s): %v", id, err)
		}
	}
	bytes := b.Bytes()
	fresh := NewButtons(ProController)
	for _, id := range all {
		pressed := bytes[id.byteIndex()]&bit(id) != 0
		if err := fresh.Set(id, pressed); err != nil {
			t.Fatalf("Set(%s): %v", id, err)
		}
	}
	if fresh.Bytes() != bytes {
		t.Fatalf("round trip mismatch: %v vs %v", fresh.Bytes(), bytes)
	}
	for _, id := range all {
		if !b.Get(id) {
			t.Fatalf("%s not set after pressing all", id)
		}
		if err := b.Set(id, false); err != nil {
			t.Fatalf("release %s: %v", id, err)
		}
		if b.Get(id) {
			t.Fatalf("%s still set after release", id)
		}
	}
}

func TestButtonByName(t *testing.T) {
	for name, want := range map[string]ButtonID{"a": A, "zl": ZL, "r_stick": RStick, "sl_l": SLLeft} {
		got, ok := ButtonByName(name)
		if !ok || got != want {
			t.Fatalf("ButtonByName(%q) = %v, %v; want %v, true", name, got, ok, want)
		}
	}
	if _, ok := ButtonByName("not_a_button"); ok {
		t.Fatal("expected ButtonByName to reject unknown name")
	}
}

func TestStickSetBounds(t *testing.T) {
	s := Center()
	if err := s.Set(0xFFF, 0); err != nil {
		t.Fatalf("boundary value rejected: %v", err)
	}
	if err := s.Set(0x1000, 0); err == nil {
		t.Fatal("expected error for h = 0x1000")
	}
	if err := s.Set(0, 0x1000); err == nil {
		t.Fatal("expected error for v = 0x1000")
	}
}

func TestKindStickPresence(t *testing.T) {
	pro := New(ProController)
	if pro.Left == nil || pro.Right == nil {
		t.Fatal("pro controller should have both sticks")
	}
	l := New(JoyConL)
	if l.Left == nil || l.Right != nil {
		t.Fatal("joy-con L should have only a left stick")
	}
	r := New(JoyConR)
	if r.Right == nil || r.Left != nil {
		t.Fatal("joy-con R should have only a right stick")
	}
}

func TestSendNotConnectedAfterClose(t *testing.T) {
	c := New(ProController)
	done := make(chan error, 1)
	go func() { done <- c.Send() }()
	c.Close()
	if err := <-done; err != ErrNotConnected {
		t.Fatalf("Send after close = %v, want ErrNotConnected", err)
	}
	if err := c.Send(); err != ErrNotConnected {
		t.Fatalf("Send on closed controller = %v, want ErrNotConnected", err)
	}
}

func TestSendAcknowledge(t *testing.T) {
	c := New(ProController)
	done := make(chan error, 1)
	go func() { done <- c.Send() }()
	// Send may not yet have latched the current pendingAck channel, so
	// keep acknowledging (as the writer loop would, once per emitted
	// report) until the waiter wakes up.
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Send = %v, want nil", err)
			}
			return
		default:
			c.Acknowledge()
		}
	}
}

func TestConnectWaitsForMarkReady(t *testing.T) {
	c := New(ProController)
	done := make(chan struct{})
	go func() {
		c.Connect()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Connect returned before MarkReady")
	default:
	}
	c.MarkReady()
	<-done
}

func TestGripMenuExitMask(t *testing.T) {
	mask := GripMenuExitMask(JoyConL)
	b := NewButtons(JoyConL)
	if err := b.Set(Down, true); err != nil {
		t.Fatal(err)
	}
	bytes := b.Bytes()
	var hit bool
	for i := range bytes {
		if bytes[i]&mask[i] != 0 {
			hit = true
		}
	}
	if !hit {
		t.Fatal("expected Down to trip the Joy-Con L grip-menu exit mask")
	}
}
