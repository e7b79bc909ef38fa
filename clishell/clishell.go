// Package clishell implements the emulator's line-oriented command
// grammar: "&&"-separated commands mutating a shared state.Controller
// (buttons, sticks, NFC tag) that the protocol engine's writer loop
// continuously reflects in outgoing reports.
package clishell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"joycontrol.dev/amiibo"
	"joycontrol.dev/mcu"
	"joycontrol.dev/state"
)

// ErrExit is returned by RunLine when the "exit" command is seen; Run
// treats it as a clean shutdown request and returns nil.
var ErrExit = errors.New("clishell: exit")

// Shell executes CLI commands against one session's controller state.
type Shell struct {
	Controller *state.Controller
	MCU        *mcu.Engine
	Out        io.Writer

	mu       sync.Mutex
	mashStop func()
}

// New returns a Shell driving the given session state. out receives
// command output (help text, error messages); a nil out discards it.
func New(c *state.Controller, m *mcu.Engine, out io.Writer) *Shell {
	if out == nil {
		out = io.Discard
	}
	return &Shell{Controller: c, MCU: m, Out: out}
}

// Run reads "&&"-joined command lines from r until EOF or an "exit"
// command, executing each one in order. It returns nil on a clean exit
// (EOF or "exit"), or the first unexpected read error.
func (s *Shell) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := s.RunLine(scanner.Text()); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			fmt.Fprintf(s.Out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// RunLine executes one "&&"-separated line of commands, stopping at the
// first command that returns ErrExit or an error.
func (s *Shell) RunLine(line string) error {
	for _, cmd := range strings.Split(line, "&&") {
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			continue
		}
		if err := s.dispatch(fields); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) dispatch(fields []string) error {
	name := fields[0]
	args := fields[1:]
	switch name {
	case "help":
		s.help()
		return nil
	case "exit":
		return ErrExit
	case "stick":
		return s.stick(args)
	case "nfc":
		return s.nfc(args)
	case "hold":
		return s.holdRelease(args, true)
	case "release":
		return s.holdRelease(args, false)
	case "mash":
		return s.mash(args)
	case "test_buttons":
		return s.testButtons()
	default:
		return s.pressButton(name)
	}
}

// pressButton implements the "any button name is a command" rule: press,
// wait for the writer loop to reflect it, then release and wait again.
func (s *Shell) pressButton(name string) error {
	id, ok := state.ButtonByName(name)
	if !ok {
		return fmt.Errorf("unrecognized command or button: %q (try 'help')", name)
	}
	if err := s.Controller.Buttons.Set(id, true); err != nil {
		return err
	}
	if err := s.Controller.Send(); err != nil {
		return err
	}
	if err := s.Controller.Buttons.Set(id, false); err != nil {
		return err
	}
	return s.Controller.Send()
}

func (s *Shell) holdRelease(names []string, pressed bool) error {
	if len(names) == 0 {
		return errors.New("usage: hold/release <buttons...>")
	}
	for _, name := range names {
		id, ok := state.ButtonByName(name)
		if !ok {
			return fmt.Errorf("unrecognized button: %q", name)
		}
		if err := s.Controller.Buttons.Set(id, pressed); err != nil {
			return err
		}
	}
	return nil
}

// stick implements "stick {l|r} {center|up|down|left|right|h|v} [value]".
func (s *Shell) stick(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: stick {l|r} {center|up|down|left|right|h|v} [value]")
	}
	var target *state.Stick
	switch args[0] {
	case "l":
		target = s.Controller.Left
	case "r":
		target = s.Controller.Right
	default:
		return fmt.Errorf("stick: unknown side %q, want l or r", args[0])
	}
	if target == nil {
		return fmt.Errorf("stick: controller kind has no %s stick", args[0])
	}
	const (
		min, center, max = 0, 0x800, 0xFFF
	)
	switch args[1] {
	case "center":
		return target.Set(center, center)
	case "up":
		h, _ := target.Get()
		return target.Set(h, max)
	case "down":
		h, _ := target.Get()
		return target.Set(h, min)
	case "left":
		_, v := target.Get()
		return target.Set(min, v)
	case "right":
		_, v := target.Get()
		return target.Set(max, v)
	case "h", "v":
		if len(args) < 3 {
			return fmt.Errorf("usage: stick %s %s <value>", args[0], args[1])
		}
		n, err := strconv.ParseUint(args[2], 0, 16)
		if err != nil {
			return fmt.Errorf("stick: bad value %q: %w", args[2], err)
		}
		h, v := target.Get()
		if args[1] == "h" {
			h = uint16(n)
		} else {
			v = uint16(n)
		}
		return target.Set(h, v)
	default:
		return fmt.Errorf("stick: unknown axis/position %q", args[1])
	}
}

// nfc implements "nfc <path>" (load and insert a tag) and "nfc remove".
func (s *Shell) nfc(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: nfc <path> | nfc remove")
	}
	if args[0] == "remove" {
		s.MCU.SetTag(nil)
		s.Controller.NFC.Set(nil)
		return nil
	}
	tag, err := amiibo.Load(args[0])
	if err != nil {
		return err
	}
	s.MCU.SetTag(tag)
	s.Controller.NFC.Set(tag)
	return nil
}

// mash implements "mash <button> <interval>": repeatedly toggles a
// button's pressed state at the given interval until the next mash
// command (which replaces it) or the shell exits. interval is parsed by
// time.ParseDuration.
func (s *Shell) mash(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: mash <button> <interval>")
	}
	id, ok := state.ButtonByName(args[0])
	if !ok {
		return fmt.Errorf("unrecognized button: %q", args[0])
	}
	interval, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("mash: bad interval %q: %w", args[1], err)
	}

	s.mu.Lock()
	if s.mashStop != nil {
		s.mashStop()
	}
	stop := make(chan struct{})
	s.mashStop = func() { close(stop) }
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pressed := false
		for {
			select {
			case <-stop:
				s.Controller.Buttons.Set(id, false)
				return
			case <-ticker.C:
				pressed = !pressed
				s.Controller.Buttons.Set(id, pressed)
			}
		}
	}()
	return nil
}

// testButtons presses and releases every button available on this
// controller kind in turn, for diagnosing report-mode wiring.
func (s *Shell) testButtons() error {
	for id := state.ButtonID(0); id < 24; id++ {
		if !s.Controller.Buttons.Available(id) {
			continue
		}
		if err := s.Controller.Buttons.Set(id, true); err != nil {
			return err
		}
		if err := s.Controller.Send(); err != nil {
			return err
		}
		if err := s.Controller.Buttons.Set(id, false); err != nil {
			return err
		}
		if err := s.Controller.Send(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) help() {
	fmt.Fprint(s.Out, `commands (separate with &&):
  <button name>                 press and release a button
  hold <buttons...>              press and hold buttons
  release <buttons...>           release held buttons
  stick {l|r} {center|up|down|left|right|h|v} [value]
  nfc <path>                     insert an amiibo dump
  nfc remove                     remove the inserted tag
  mash <button> <interval>       repeatedly toggle a button
  test_buttons                   press/release every available button
  help                           show this text
  exit                           quit
`)
}
