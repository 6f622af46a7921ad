package probe

import (
	"fmt"

	"swdprobe/internal/transport"
)

// Version describes the probe firmware as reported by the version query.
// The Swim field is meaningful on V2 hardware, Mass on V2-1; the other
// reads zero. Constructed once at session open, immutable afterwards.
type Version struct {
	Stlink  int
	Jtag    int
	Swim    int
	Mass    int
	Variant string
}

// parseVersion interprets the big-endian version word of the 6-byte
// reply. The hardware variant comes from the transport descriptor and
// decides whether the low six bits count the SWIM or the mass-storage
// firmware.
func parseVersion(word uint16, variant string) Version {
	v := Version{
		Stlink:  int(word>>12) & 0xf,
		Jtag:    int(word>>6) & 0x3f,
		Variant: variant,
	}
	switch variant {
	case transport.VariantV2:
		v.Swim = int(word) & 0x3f
	case transport.VariantV21:
		v.Mass = int(word) & 0x3f
	}
	return v
}

// API returns the debug command generation this firmware implements.
func (v Version) API() int {
	if v.Jtag > 11 {
		return 2
	}
	return 1
}

// String renders the canonical form, e.g. "ST-Link/V2 V2J27S6".
func (v Version) String() string {
	s := fmt.Sprintf("ST-Link/%s V%dJ%d", v.Variant, v.Stlink, v.Jtag)
	switch v.Variant {
	case transport.VariantV2:
		s += fmt.Sprintf("S%d", v.Swim)
	case transport.VariantV21:
		s += fmt.Sprintf("M%d", v.Mass)
	}
	return s
}
