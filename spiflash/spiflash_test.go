package spiflash

import "testing"

func TestDefaultFactoryLeftMatchesKnownReply(t *testing.T) {
	img := New()
	data, err := img.Read(0x603D, 9)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x07, 0x70, 0x00, 0x08, 0x80, 0x00, 0x07, 0x70}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, data[i], want[i])
		}
	}
}

func TestReadBoundaries(t *testing.T) {
	img := New()
	if _, err := img.Read(0, 0x1D); err != nil {
		t.Fatalf("size 0x1D should succeed: %v", err)
	}
	if _, err := img.Read(0, 0x1E); err == nil {
		t.Fatal("size 0x1E should fail")
	}
	if _, err := img.Read(Size-1, 2); err == nil {
		t.Fatal("out of range read should fail")
	}
}

func TestReadIsExactSlice(t *testing.T) {
	img := New()
	img.data[100] = 0xAB
	img.data[101] = 0xCD
	data, err := img.Read(100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != 0xAB || data[1] != 0xCD || len(data) != 2 {
		t.Fatalf("got %x", data)
	}
}

func TestUserCalibrationMagic(t *testing.T) {
	img := New()
	if _, ok := img.UserLeft(); ok {
		t.Fatal("expected no user left calibration by default")
	}
	if _, ok := img.UserRight(); ok {
		t.Fatal("expected no user right calibration by default")
	}
	calib := [calibLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	img.SetUserLeft(calib)
	got, ok := img.UserLeft()
	if !ok || got != calib {
		t.Fatalf("UserLeft after set: got %v ok %v", got, ok)
	}
}

func TestDecodeLeftRightSwapRoles(t *testing.T) {
	// Three distinguishable 9-byte triples packed into one calibration
	// payload; left and right decode the same bytes but assign the
	// resulting (h, v) pairs to different named fields, since the right
	// stick's layout swaps the role of the three triples.
	var b [calibLen]byte
	b[0], b[1], b[2] = 0x01, 0x11, 0x10
	b[3], b[4], b[5] = 0x02, 0x22, 0x20
	b[6], b[7], b[8] = 0x03, 0x33, 0x30

	left := DecodeLeft(b)
	right := DecodeRight(b)
	if left.HAbove != right.HCenter || left.VAbove != right.VCenter {
		t.Fatalf("triple 1 (above/center) mismatch: %+v %+v", left, right)
	}
	if left.HCenter != right.HBelow || left.VCenter != right.VBelow {
		t.Fatalf("triple 2 (center/below) mismatch: %+v %+v", left, right)
	}
	if left.HBelow != right.HAbove || left.VBelow != right.VAbove {
		t.Fatalf("triple 3 (below/above) mismatch: %+v %+v", left, right)
	}
}
