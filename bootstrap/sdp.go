package bootstrap

import "fmt"

// hidSDPRecordTemplate is the HID-over-L2CAP service record BlueZ expects
// for RegisterProfile: the HID service class (0x1124), an L2CAP/HIDP
// protocol descriptor list, the fixed 0x0100 HID profile version, and the
// HID parser version and device subclass attributes. Its single %s
// placeholder is the controller's device name (the service name
// attribute 0x0100).
const hidSDPRecordTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<record>
  <attribute id="0x0001">
    <sequence>
      <uuid value="0x1124"/>
    </sequence>
  </attribute>
  <attribute id="0x0004">
    <sequence>
      <sequence>
        <uuid value="0x0100"/>
      </sequence>
      <sequence>
        <uuid value="0x0011"/>
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0005">
    <sequence>
      <uuid value="0x1002"/>
    </sequence>
  </attribute>
  <attribute id="0x0009">
    <sequence>
      <sequence>
        <uuid value="0x1124"/>
        <uint16 value="0x0100"/>
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0100">
    <text value="%s"/>
  </attribute>
  <attribute id="0x0201">
    <uint16 value="0x0111"/>
  </attribute>
  <attribute id="0x0202">
    <uint8 value="0x00"/>
  </attribute>
</record>
`

// SDPRecord renders the HID service record XML blob for name, ready to
// hand to adapter.Controller.RegisterSDP.
func SDPRecord(name string) string {
	return fmt.Sprintf(hidSDPRecordTemplate, name)
}
