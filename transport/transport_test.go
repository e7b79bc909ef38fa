//go:build linux

package transport

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newLoopbackSession builds a Session over a pair of connected AF_UNIX
// SEQPACKET sockets standing in for the control/interrupt L2CAP sockets;
// the read/write syscalls behave identically from Go's point of view.
func newLoopbackSession(t *testing.T, capture CaptureSink) (*Session, int) {
	t.Helper()
	ctrlPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair ctrl: %v", err)
	}
	itrPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair itr: %v", err)
	}
	s := NewSession(ctrlPair[0], itrPair[0], -1, capture, nil)
	t.Cleanup(func() { s.Close() })
	return s, itrPair[1]
}

type recordingSink struct {
	mu   sync.Mutex
	dirs []Direction
	bufs [][]byte
}

func (r *recordingSink) Capture(dir Direction, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
	r.bufs = append(r.bufs, append([]byte(nil), b...))
}

func TestWriteDeliversBytesAndCaptures(t *testing.T) {
	sink := &recordingSink{}
	s, peer := newLoopbackSession(t, sink)
	defer unix.Close(peer)

	payload := []byte{0x21, 0x01, 0x02, 0x03}
	if err := s.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := unix.Read(peer, buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	got := buf[:n]
	if string(got) != string(payload) {
		t.Fatalf("peer got %x, want %x", got, payload)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.bufs) != 1 || sink.dirs[0] != DirWrite {
		t.Fatalf("capture sink did not record the write")
	}
}

func TestReadLoopDeliversAndCaptures(t *testing.T) {
	sink := &recordingSink{}
	s, peer := newLoopbackSession(t, sink)
	defer unix.Close(peer)

	received := make(chan []byte, 1)
	go s.ReadLoop(func(b []byte) { received <- b })

	payload := []byte{0xA2, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03}
	if _, err := unix.Write(peer, payload); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("ReadLoop delivered %x, want %x", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop never delivered the report")
	}

	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.bufs)
		sink.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("capture sink never recorded the read")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWriteBlocksUntilSemaphoreReplenished(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	defer unix.Close(peer)

	// Drain the flow window.
	for i := 0; i < defaultFlowWindow; i++ {
		if err := s.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		buf := make([]byte, 4)
		if _, err := unix.Read(peer, buf); err != nil {
			t.Fatalf("drain read: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.Write([]byte{0xFF}) }()

	select {
	case <-done:
		t.Fatal("Write returned before the semaphore was replenished")
	case <-time.After(100 * time.Millisecond):
	}

	// Simulate a Number_Of_Completed_Packets event granting one credit
	// back for a single connection handle.
	params := []byte{0x01, 0x40, 0x00, 0x01, 0x00}
	s.handleCompletedPackets(params)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write never unblocked after completed-packets credit")
	}
}

func TestMaxSlotsChangePausesWrites(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	defer unix.Close(peer)

	for i := 0; i < defaultFlowWindow; i++ {
		<-s.sem
	}

	// Connection handle + 1-byte max-slots value below the low-water mark.
	s.handleMaxSlotsChange([]byte{0x40, 0x00, byte(lowSlotThreshold - 1)})
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if !paused {
		t.Fatal("expected session to be marked paused")
	}

	select {
	case <-s.sem:
		t.Fatal("semaphore should not be replenished while paused")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteWaitsOutLinkPause(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	defer unix.Close(peer)

	s.handleMaxSlotsChange([]byte{0x40, 0x00, byte(lowSlotThreshold - 1)})

	done := make(chan error, 1)
	go func() { done <- s.Write([]byte{0x3F}) }()

	select {
	case <-done:
		t.Fatal("Write returned while the link pause was in effect")
	case <-time.After(100 * time.Millisecond):
	}

	// The completed-packets path lifts the pause before the backoff timer.
	s.handleCompletedPackets([]byte{0x01, 0x40, 0x00, 0x01, 0x00})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write never unblocked after the pause lifted")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	defer unix.Close(peer)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
