// Package spiflash emulates the controller's 512 KiB SPI flash image:
// the region the console reads via the SPI_FLASH_READ sub-command, most
// notably the factory and user analog-stick calibration ranges.
package spiflash

import "fmt"

// Size is the total size of the emulated flash image.
const Size = 512 * 1024

const (
	offsetFactoryLeft  = 0x603D
	offsetFactoryRight = 0x6046
	offsetUserLeftMag  = 0x8010
	offsetUserLeft     = 0x8012
	offsetUserRightMag = 0x801B
	offsetUserRight    = 0x801D

	calibLen = 9
)

// userCalibMagic marks a user calibration slot as populated.
var userCalibMagic = [2]byte{0xB2, 0xA1}

// Image is the flat 512 KiB SPI flash byte array.
type Image struct {
	data [Size]byte
}

// New returns a flash image filled with 0xFF and seeded with known-good
// factory stick calibration.
func New() *Image {
	img := &Image{}
	for i := range img.data {
		img.data[i] = 0xFF
	}
	copy(img.data[offsetFactoryLeft:offsetFactoryLeft+calibLen], defaultFactoryLeft[:])
	copy(img.data[offsetFactoryRight:offsetFactoryRight+calibLen], defaultFactoryRight[:])
	return img
}

// defaultFactoryLeft and defaultFactoryRight are known-good factory
// calibration bytes (centered sticks, symmetric range), matching the
// values real consoles commonly see from genuine controllers.
var (
	defaultFactoryLeft  = [calibLen]byte{0x00, 0x07, 0x70, 0x00, 0x08, 0x80, 0x00, 0x07, 0x70}
	defaultFactoryRight = [calibLen]byte{0x00, 0x08, 0x80, 0x00, 0x08, 0x80, 0x00, 0x08, 0x80}
)

// Read returns the [offset, offset+size) slice of the image. size must be
// at most 0x1D and offset+size must not exceed Size.
func (img *Image) Read(offset uint32, size int) ([]byte, error) {
	if size > 0x1D {
		return nil, fmt.Errorf("spiflash: read size %d exceeds 0x1D", size)
	}
	if uint64(offset)+uint64(size) > Size {
		return nil, fmt.Errorf("spiflash: read [%#x, %#x) out of range", offset, uint64(offset)+uint64(size))
	}
	out := make([]byte, size)
	copy(out, img.data[offset:int(offset)+size])
	return out, nil
}

// FactoryLeft and FactoryRight return the factory stick calibration
// slices.
func (img *Image) FactoryLeft() [calibLen]byte {
	var out [calibLen]byte
	copy(out[:], img.data[offsetFactoryLeft:offsetFactoryLeft+calibLen])
	return out
}

func (img *Image) FactoryRight() [calibLen]byte {
	var out [calibLen]byte
	copy(out[:], img.data[offsetFactoryRight:offsetFactoryRight+calibLen])
	return out
}

// UserLeft and UserRight return the user stick calibration slices and
// true, or false if the corresponding magic bytes aren't set.
func (img *Image) UserLeft() ([calibLen]byte, bool) {
	return img.userCalib(offsetUserLeftMag, offsetUserLeft)
}

func (img *Image) UserRight() ([calibLen]byte, bool) {
	return img.userCalib(offsetUserRightMag, offsetUserRight)
}

func (img *Image) userCalib(magOffset, dataOffset int) ([calibLen]byte, bool) {
	var out [calibLen]byte
	if img.data[magOffset] != userCalibMagic[0] || img.data[magOffset+1] != userCalibMagic[1] {
		return out, false
	}
	copy(out[:], img.data[dataOffset:dataOffset+calibLen])
	return out, true
}

// SetUserLeft and SetUserRight write a user calibration slot and set its
// magic bytes, for tests and CLI tooling that want to exercise the user
// calibration path.
func (img *Image) SetUserLeft(calib [calibLen]byte) {
	img.data[offsetUserLeftMag] = userCalibMagic[0]
	img.data[offsetUserLeftMag+1] = userCalibMagic[1]
	copy(img.data[offsetUserLeft:offsetUserLeft+calibLen], calib[:])
}

func (img *Image) SetUserRight(calib [calibLen]byte) {
	img.data[offsetUserRightMag] = userCalibMagic[0]
	img.data[offsetUserRightMag+1] = userCalibMagic[1]
	copy(img.data[offsetUserRight:offsetUserRight+calibLen], calib[:])
}

// StickCalibration is the decoded six 12-bit calibration values.
type StickCalibration struct {
	HCenter, VCenter uint16
	HAbove, VAbove   uint16
	HBelow, VBelow   uint16
}

// DecodeLeft decodes a left-stick 9-byte calibration payload: the first
// triple is the "above center" range, the second is center, the third is
// "below center".
func DecodeLeft(b [calibLen]byte) StickCalibration {
	return StickCalibration{
		HAbove:  uint16(b[1])<<8&0xF00 | uint16(b[0]),
		VAbove:  uint16(b[2])<<4 | uint16(b[1]>>4),
		HCenter: uint16(b[4])<<8&0xF00 | uint16(b[3]),
		VCenter: uint16(b[5])<<4 | uint16(b[4]>>4),
		HBelow:  uint16(b[7])<<8&0xF00 | uint16(b[6]),
		VBelow:  uint16(b[8])<<4 | uint16(b[7]>>4),
	}
}

// DecodeRight decodes a right-stick 9-byte calibration payload: the first
// triple is center, the second is "below center", the third is "above
// center" — the role of the three triples is swapped relative to the left
// stick.
func DecodeRight(b [calibLen]byte) StickCalibration {
	return StickCalibration{
		HCenter: uint16(b[1])<<8&0xF00 | uint16(b[0]),
		VCenter: uint16(b[2])<<4 | uint16(b[1]>>4),
		HBelow:  uint16(b[4])<<8&0xF00 | uint16(b[3]),
		VBelow:  uint16(b[5])<<4 | uint16(b[4]>>4),
		HAbove:  uint16(b[7])<<8&0xF00 | uint16(b[6]),
		VAbove:  uint16(b[8])<<4 | uint16(b[7]>>4),
	}
}
