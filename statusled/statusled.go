// Package statusled drives an optional GPIO pairing-status indicator: lit
// steady once paired, blinking while waiting for or connecting to a
// console, and off otherwise. On hosts without a matching GPIO chip (anything but a Pi-class
// board) it degrades to a no-op so the bootstrap path never has to care
// whether one is present.
package statusled

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Phase is one of the bootstrap phases the LED reflects.
type Phase int

const (
	Idle       Phase = iota // adapter not yet set up
	Waiting                 // advertising/listening for a console
	Connecting              // accepted, pairing handshake in progress
	Paired                  // input-report streaming is live
)

// Indicator drives a single GPIO output pin to reflect bootstrap phase.
type Indicator struct {
	pin  gpio.PinOut
	stop chan struct{}
	done chan struct{}
}

// Open initializes the indicator on the given GPIO pin name (e.g. "GPIO25").
// It returns a no-op Indicator, not an error, when periph can't find a
// matching pin (non-Pi hosts): every call site can use the returned
// Indicator unconditionally.
func Open(pinName string) *Indicator {
	if _, err := host.Init(); err != nil {
		return &Indicator{}
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return &Indicator{}
	}
	return &Indicator{pin: pin}
}

// Set drives the indicator for the given phase: solid on for Paired,
// solid off for Idle, and a blink loop for Waiting/Connecting (faster for
// Connecting). Calling Set again replaces any running blink loop.
func (i *Indicator) Set(p Phase) {
	if i.pin == nil {
		return
	}
	i.stopBlink()
	switch p {
	case Idle:
		i.pin.Out(gpio.Low)
	case Paired:
		i.pin.Out(gpio.High)
	case Waiting:
		i.startBlink(500 * time.Millisecond)
	case Connecting:
		i.startBlink(120 * time.Millisecond)
	}
}

func (i *Indicator) startBlink(period time.Duration) {
	stop := make(chan struct{})
	done := make(chan struct{})
	i.stop, i.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		on := false
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				on = !on
				if on {
					i.pin.Out(gpio.High)
				} else {
					i.pin.Out(gpio.Low)
				}
			}
		}
	}()
}

func (i *Indicator) stopBlink() {
	if i.stop == nil {
		return
	}
	close(i.stop)
	<-i.done
	i.stop, i.done = nil, nil
}

// Close stops any running blink loop and turns the indicator off.
func (i *Indicator) Close() {
	if i.pin == nil {
		return
	}
	i.stopBlink()
	i.pin.Out(gpio.Low)
}
