// internal/transport/usb.go
// Bulk-endpoint USB communication with ST-Link/V2 probes via libusb.

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

const (
	stlinkVendorID = 0x0483

	pidV2       = 0x3748
	pidV21      = 0x374b
	pidV21NoMSD = 0x3752

	// Every command is padded to this length on the wire.
	commandSize = 16

	xferTimeout = 5 * time.Second
)

// Endpoint numbers. Both variants receive on EP1 IN (0x81); V2 transmits
// on EP2 OUT, V2-1 on EP1 OUT.
const (
	endpointIn     = 1
	endpointOutV2  = 2
	endpointOutV21 = 1
)

// USB is a gousb-backed Transport for ST-Link/V2 probes.
type USB struct {
	ctx     *gousb.Context
	device  *gousb.Device
	config  *gousb.Config
	intf    *gousb.Interface
	epOut   *gousb.OutEndpoint
	epIn    *gousb.InEndpoint
	variant string
}

// OpenUSB finds an ST-Link probe and claims its bulk endpoints. With a
// non-empty serial only the matching probe is opened; otherwise exactly
// one probe must be connected.
func OpenUSB(serial string) (*USB, error) {
	ctx := gousb.NewContext()

	devices, _ := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != stlinkVendorID {
			return false
		}
		switch uint16(desc.Product) {
		case pidV2, pidV21, pidV21NoMSD:
			return true
		}
		return false
	})

	if serial == "" && len(devices) > 1 {
		for _, dev := range devices {
			dev.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("%d ST-Link probes found; select one by serial", len(devices))
	}

	var device *gousb.Device
	for _, dev := range devices {
		if device != nil {
			dev.Close()
			continue
		}
		if serial != "" {
			devSerial, _ := dev.SerialNumber()
			if devSerial != serial {
				dev.Close()
				continue
			}
		}
		device = dev
	}
	if device == nil {
		ctx.Close()
		if serial != "" {
			return nil, fmt.Errorf("no ST-Link probe with serial %q found", serial)
		}
		return nil, fmt.Errorf("no ST-Link probe found (VID 0x%04x)", stlinkVendorID)
	}

	variant := VariantV2
	epOutNum := endpointOutV2
	if pid := uint16(device.Desc.Product); pid == pidV21 || pid == pidV21NoMSD {
		variant = VariantV21
		epOutNum = endpointOutV21
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to set USB config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim USB interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(epOutNum)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open OUT endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open IN endpoint: %w", err)
	}

	log.Debugf("opened ST-Link/%s probe [%04x:%04x]", variant,
		uint16(device.Desc.Vendor), uint16(device.Desc.Product))

	return &USB{
		ctx:     ctx,
		device:  device,
		config:  config,
		intf:    intf,
		epOut:   epOut,
		epIn:    epIn,
		variant: variant,
	}, nil
}

// Variant reports the hardware flavor derived from the product ID.
func (u *USB) Variant() string {
	return u.variant
}

// Xfer sends one command and reads its reply, per the Transport contract.
func (u *USB) Xfer(cmd []byte, data []byte, rxLength int) ([]byte, error) {
	if len(cmd) > commandSize {
		return nil, fmt.Errorf("command too long: %d bytes (maximum is %d)", len(cmd), commandSize)
	}

	frame := make([]byte, commandSize)
	copy(frame, cmd)
	if err := u.write(frame); err != nil {
		return nil, fmt.Errorf("command write failed: %w", err)
	}
	if len(data) > 0 {
		if err := u.write(data); err != nil {
			return nil, fmt.Errorf("payload write failed: %w", err)
		}
	}
	if rxLength == 0 {
		return nil, nil
	}

	reply := make([]byte, rxLength)
	ctx, cancel := context.WithTimeout(context.Background(), xferTimeout)
	defer cancel()
	n, err := u.epIn.ReadContext(ctx, reply)
	if err != nil {
		return nil, fmt.Errorf("reply read failed: %w", err)
	}
	if n < rxLength {
		return nil, fmt.Errorf("short reply: %d of %d bytes", n, rxLength)
	}
	log.Tracef("EP%d -> %d bytes", endpointIn, n)
	return reply[:rxLength], nil
}

func (u *USB) write(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), xferTimeout)
	defer cancel()
	n, err := u.epOut.WriteContext(ctx, buf)
	if err != nil {
		return err
	}
	log.Tracef("%d bytes -> EP%d", n, u.epOut.Desc.Number)
	return nil
}

// Close releases the interface and the underlying libusb handles.
func (u *USB) Close() error {
	if u.intf != nil {
		u.intf.Close()
	}
	if u.config != nil {
		u.config.Close()
	}
	if u.device != nil {
		u.device.Close()
	}
	if u.ctx != nil {
		u.ctx.Close()
	}
	return nil
}
