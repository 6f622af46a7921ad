// Package transport moves raw ST-Link command traffic over USB.
package transport

// Hardware variant names, derived from the USB product ID. "V2" probes
// carry a SWIM interface, "V2-1" probes a mass-storage one.
const (
	VariantV2  = "V2"
	VariantV21 = "V2-1"
)

// Transport issues one probe command and collects its reply.
//
// Xfer writes cmd padded to the probe's fixed command size, then writes
// data if non-empty, then reads exactly rxLength reply bytes. A rxLength
// of zero means the command has no reply.
type Transport interface {
	Xfer(cmd []byte, data []byte, rxLength int) ([]byte, error)

	// Variant reports the hardware flavor, VariantV2 or VariantV21.
	Variant() string

	Close() error
}
