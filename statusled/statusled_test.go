package statusled

import "testing"

// On a non-Pi host (any CI runner, any laptop) Open degrades to a no-op
// indicator; every Phase must still be safe to Set and Close must not
// block or panic.
func TestNoOpOnNonPiHost(t *testing.T) {
	ind := Open("GPIO25")
	for _, p := range []Phase{Idle, Waiting, Connecting, Paired, Idle} {
		ind.Set(p)
	}
	ind.Close()
}
