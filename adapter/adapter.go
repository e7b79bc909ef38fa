//go:build linux

// Package adapter drives the local Bluetooth adapter's control plane
// (name, class, discoverability, SDP record registration, address
// reporting) against a real BlueZ adapter over D-Bus.
package adapter

import (
	"fmt"
	"regexp"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService  = "org.bluez"
	adapterIface  = "org.bluez.Adapter1"
	profileIface  = "org.bluez.ProfileManager1"
	propsIface    = "org.freedesktop.DBus.Properties"
	hidProfileUUID = "00001124-0000-1000-8000-00805f9b34fb"
	hidProfilePath = "/bluez/switch/hid"
)

// namePattern is the shape a BlueZ adapter object's interface name must
// match, e.g. "hci0".
var namePattern = regexp.MustCompile(`^hci[0-9]+$`)

// Controller drives one local BlueZ adapter's control-plane properties:
// name, class, power, discoverability, pairability, and SDP registration.
// It never touches the L2CAP data path; that's the transport package.
type Controller struct {
	conn  *dbus.Conn
	obj   dbus.BusObject
	iface string // e.g. "hci0"
}

// Open connects to the system bus and binds to the named adapter
// (typically "hci0"). It does not change any adapter property.
func Open(iface string) (*Controller, error) {
	if !namePattern.MatchString(iface) {
		return nil, fmt.Errorf("adapter: interface name %q doesn't look like an adapter (want hciN)", iface)
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("adapter: connect system bus: %w", err)
	}
	obj := conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+iface))
	return &Controller{conn: conn, obj: obj, iface: iface}, nil
}

// Close releases the D-Bus connection.
func (c *Controller) Close() error {
	return c.conn.Close()
}

func (c *Controller) setProp(name string, v interface{}) error {
	call := c.obj.Call(propsIface+".Set", 0, adapterIface, name, dbus.MakeVariant(v))
	if call.Err != nil {
		return fmt.Errorf("adapter: set %s: %w", name, call.Err)
	}
	return nil
}

// SetName sets the adapter's friendly (advertised) name.
func (c *Controller) SetName(name string) error { return c.setProp("Alias", name) }

// SetClass sets the adapter's class-of-device, e.g. 0x002508 (gamepad).
//
// Modern BlueZ exposes Adapter1.Class as a read-only property; the only
// write path is the kernel management socket (btmgmt/hciconfig), which
// this package doesn't reach. SetClass therefore always returns an error,
// leaving the bootstrap path to decide whether that's fatal.
func (c *Controller) SetClass(class uint32) error {
	return fmt.Errorf("adapter: class-of-device is not settable over org.bluez.Adapter1; class=%#06x requested", class)
}

// SetPowered toggles the adapter's Powered property.
func (c *Controller) SetPowered(on bool) error { return c.setProp("Powered", on) }

// SetDiscoverable toggles the adapter's Discoverable property.
func (c *Controller) SetDiscoverable(on bool) error { return c.setProp("Discoverable", on) }

// SetPairable toggles the adapter's Pairable property.
func (c *Controller) SetPairable(on bool) error { return c.setProp("Pairable", on) }

// Address returns the adapter's own 6-byte Bluetooth address.
func (c *Controller) Address() ([6]byte, error) {
	var out [6]byte
	v, err := c.obj.GetProperty(adapterIface + ".Address")
	if err != nil {
		return out, fmt.Errorf("adapter: get address: %w", err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return out, fmt.Errorf("adapter: Address property has unexpected type %T", v.Value())
	}
	if err := parseAddress(s, &out); err != nil {
		return out, err
	}
	return out, nil
}

func parseAddress(s string, out *[6]byte) error {
	n, err := fmt.Sscanf(s, "%02X:%02X:%02X:%02X:%02X:%02X",
		&out[0], &out[1], &out[2], &out[3], &out[4], &out[5])
	if err != nil || n != 6 {
		return fmt.Errorf("adapter: malformed address %q", s)
	}
	return nil
}

// RegisterSDP registers the HID service record described by the given SDP
// XML text under the fixed HID profile UUID and path, and returns the
// UUID it was registered under.
func (c *Controller) RegisterSDP(recordXML string) (string, error) {
	mgr := c.conn.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{
		"ServiceRecord":         dbus.MakeVariant(recordXML),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	call := mgr.Call(profileIface+".RegisterProfile", 0,
		dbus.ObjectPath(hidProfilePath), hidProfileUUID, opts)
	if call.Err != nil {
		return "", fmt.Errorf("adapter: register SDP profile: %w", call.Err)
	}
	return hidProfileUUID, nil
}

// UnregisterSDP reverses RegisterSDP.
func (c *Controller) UnregisterSDP() error {
	mgr := c.conn.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	call := mgr.Call(profileIface+".UnregisterProfile", 0, dbus.ObjectPath(hidProfilePath))
	if call.Err != nil {
		return fmt.Errorf("adapter: unregister SDP profile: %w", call.Err)
	}
	return nil
}
