package probe

import (
	"bytes"
	"errors"
	"testing"

	"swdprobe/internal/transport"
)

type xferCall struct {
	cmd  []byte
	data []byte
	rx   int
}

// fakeTransport replays canned replies and records every command.
type fakeTransport struct {
	variant string
	replies [][]byte
	calls   []xferCall
	err     error
}

func (f *fakeTransport) Xfer(cmd, data []byte, rxLength int) ([]byte, error) {
	call := xferCall{cmd: append([]byte(nil), cmd...), rx: rxLength}
	if data != nil {
		call.data = append([]byte(nil), data...)
	}
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if rxLength == 0 {
		return nil, nil
	}
	if len(f.replies) == 0 {
		return make([]byte, rxLength), nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeTransport) Variant() string { return f.variant }
func (f *fakeTransport) Close() error    { return nil }

// versionReply builds the 6-byte version-query reply.
func versionReply(stlink, jtag, last int) []byte {
	word := uint16(stlink)<<12 | uint16(jtag)<<6 | uint16(last)
	return []byte{byte(word >> 8), byte(word), 0x83, 0x04, 0x48, 0x37}
}

// testProbe returns a session wired to a fake transport, bypassing Open.
func testProbe(f *fakeTransport) *Probe {
	return &Probe{tr: f, api: apiV2{}}
}

func TestOpenSequence(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{
			versionReply(2, 30, 7),
			{ModeDebug, 0x00}, // current mode
			{0x80, 0x00},      // frequency ack
			{0x80, 0x00},      // enter reply (discarded)
		},
	}

	p, err := Open(f, 500000)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := []xferCall{
		{cmd: []byte{0xf1, 0x80}, rx: 6},
		{cmd: []byte{0xf5}, rx: 2},
		{cmd: []byte{0xf2, 0x21}, rx: 0},       // leave debug mode
		{cmd: []byte{0xf2, 0x43, 0x07}, rx: 2}, // 480 kHz divisor
		{cmd: []byte{0xf2, 0x30, 0x00}, rx: 2}, // enter debug/swd
	}
	if len(f.calls) != len(want) {
		t.Fatalf("expected %d transfers, got %d", len(want), len(f.calls))
	}
	for i, w := range want {
		if !bytes.Equal(f.calls[i].cmd, w.cmd) || f.calls[i].rx != w.rx {
			t.Errorf("transfer %d: got cmd % x rx %d, want cmd % x rx %d",
				i, f.calls[i].cmd, f.calls[i].rx, w.cmd, w.rx)
		}
	}

	if p.Frequency() != 480000 {
		t.Errorf("expected negotiated frequency 480000, got %d", p.Frequency())
	}
	if got := p.VersionString(); got != "ST-Link/V2 V2J30S7" {
		t.Errorf("unexpected version string %q", got)
	}
}

func TestOpenLeaveState(t *testing.T) {
	cases := []struct {
		mode byte
		exit []byte
	}{
		{ModeDFU, []byte{0xf3, 0x07}},
		{ModeDebug, []byte{0xf2, 0x21}},
		{ModeSwim, []byte{0xf4, 0x01}},
		{ModeMass, nil},
		{ModeBootloader, nil},
	}
	for _, c := range cases {
		f := &fakeTransport{
			variant: transport.VariantV2,
			replies: [][]byte{
				versionReply(2, 30, 7),
				{c.mode, 0x00},
				{0x80, 0x00},
				{0x80, 0x00},
			},
		}
		if _, err := Open(f, 4000000); err != nil {
			t.Fatalf("mode 0x%02x: Open failed: %v", c.mode, err)
		}
		// transfer 2 is the exit command when one is expected
		if c.exit == nil {
			if !bytes.Equal(f.calls[2].cmd, []byte{0xf2, 0x43, 0x00}) {
				t.Errorf("mode 0x%02x: expected no exit command, got % x", c.mode, f.calls[2].cmd)
			}
		} else if !bytes.Equal(f.calls[2].cmd, c.exit) {
			t.Errorf("mode 0x%02x: expected exit % x, got % x", c.mode, c.exit, f.calls[2].cmd)
		}
	}
}

func TestOpenSkipsFrequencyOnOldFirmware(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{
			versionReply(2, 21, 7),
			{ModeDFU, 0x00},
			{0x80, 0x00},
		},
	}
	if _, err := Open(f, 25000); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, call := range f.calls {
		if len(call.cmd) >= 2 && call.cmd[0] == 0xf2 && call.cmd[1] == 0x43 {
			t.Fatalf("set-frequency issued on jtag<22 firmware: % x", call.cmd)
		}
	}
}

func TestOpenFrequencyRefused(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{
			versionReply(2, 30, 7),
			{ModeDebug, 0x00},
			{0x40, 0x00}, // probe refuses
		},
	}
	_, err := Open(f, 4000000)
	if !errors.Is(err, ErrFrequencyRefused) {
		t.Fatalf("expected frequency error, got %v", err)
	}
}

func TestOpenFrequencyTooLow(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{
			versionReply(2, 30, 7),
			{ModeDebug, 0x00},
		},
	}
	_, err := Open(f, 24999)
	if !errors.Is(err, ErrFrequencyTooLow) {
		t.Fatalf("expected frequency error, got %v", err)
	}
}

func TestOpenRejectsApiV1Firmware(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{versionReply(2, 11, 7)},
	}
	_, err := Open(f, 4000000)
	if !errors.Is(err, ErrUnsupportedFirmware) {
		t.Fatalf("expected firmware error, got %v", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("expected only the version query, got %d transfers", len(f.calls))
	}
}

func TestGetTargetVoltage(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{
			{0xb0, 0x04, 0x00, 0x00, 0xdc, 0x02, 0x00, 0x00}, // an0=1200 an1=732
		},
	}
	p := testProbe(f)
	v, ok, err := p.GetTargetVoltage()
	if err != nil {
		t.Fatalf("GetTargetVoltage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a defined voltage")
	}
	// 2 * 732 * 1.2 / 1200 = 1.464, rounded to 1.46
	if v != 1.46 {
		t.Errorf("expected 1.46 V, got %v", v)
	}
	if !bytes.Equal(f.calls[0].cmd, []byte{0xf7}) || f.calls[0].rx != 8 {
		t.Errorf("unexpected voltage command % x rx %d", f.calls[0].cmd, f.calls[0].rx)
	}
}

func TestGetTargetVoltageUndefined(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{make([]byte, 8)}, // an0 == 0
	}
	p := testProbe(f)
	_, ok, err := p.GetTargetVoltage()
	if err != nil {
		t.Fatalf("GetTargetVoltage failed: %v", err)
	}
	if ok {
		t.Fatal("expected voltage to be undefined when an0 is zero")
	}
}

func TestGetIDCode(t *testing.T) {
	reply := make([]byte, 12)
	copy(reply[4:8], []byte{0x77, 0x14, 0xb1, 0x2b}) // 0x2bb11477 LE
	f := &fakeTransport{variant: transport.VariantV2, replies: [][]byte{reply}}
	p := testProbe(f)
	id, err := p.GetIDCode()
	if err != nil {
		t.Fatalf("GetIDCode failed: %v", err)
	}
	if id != 0x2bb11477 {
		t.Errorf("expected idcode 0x2bb11477, got 0x%08x", id)
	}
	if !bytes.Equal(f.calls[0].cmd, []byte{0xf2, 0x31}) || f.calls[0].rx != 12 {
		t.Errorf("unexpected idcode command % x rx %d", f.calls[0].cmd, f.calls[0].rx)
	}
}

func TestRegisterAccess(t *testing.T) {
	reply := make([]byte, 8)
	copy(reply[4:8], []byte{0x78, 0x56, 0x34, 0x12})
	f := &fakeTransport{variant: transport.VariantV2, replies: [][]byte{reply}}
	p := testProbe(f)

	value, err := p.GetReg(13)
	if err != nil {
		t.Fatalf("GetReg failed: %v", err)
	}
	if value != 0x12345678 {
		t.Errorf("expected 0x12345678, got 0x%08x", value)
	}
	if !bytes.Equal(f.calls[0].cmd, []byte{0xf2, 0x33, 13}) {
		t.Errorf("unexpected read-reg command % x", f.calls[0].cmd)
	}

	if err := p.SetReg(15, 0x08000230); err != nil {
		t.Fatalf("SetReg failed: %v", err)
	}
	if !bytes.Equal(f.calls[1].cmd, []byte{0xf2, 0x34, 15, 0x30, 0x02, 0x00, 0x08}) {
		t.Errorf("unexpected write-reg command % x", f.calls[1].cmd)
	}
	if f.calls[1].rx != 2 {
		t.Errorf("write-reg expects a 2-byte status reply, got rx %d", f.calls[1].rx)
	}
}

func TestMem32SingleAccess(t *testing.T) {
	reply := make([]byte, 8)
	copy(reply[4:8], []byte{0xef, 0xbe, 0xad, 0xde})
	f := &fakeTransport{variant: transport.VariantV2, replies: [][]byte{reply}}
	p := testProbe(f)

	value, err := p.GetMem32(0x20000010)
	if err != nil {
		t.Fatalf("GetMem32 failed: %v", err)
	}
	if value != 0xdeadbeef {
		t.Errorf("expected 0xdeadbeef, got 0x%08x", value)
	}
	if !bytes.Equal(f.calls[0].cmd, []byte{0xf2, 0x36, 0x10, 0x00, 0x00, 0x20}) {
		t.Errorf("unexpected read command % x", f.calls[0].cmd)
	}

	if err := p.SetMem32(0x20000010, 0xcafebabe); err != nil {
		t.Fatalf("SetMem32 failed: %v", err)
	}
	wantCmd := []byte{0xf2, 0x35, 0x10, 0x00, 0x00, 0x20, 0xbe, 0xba, 0xfe, 0xca}
	if !bytes.Equal(f.calls[1].cmd, wantCmd) {
		t.Errorf("unexpected write command % x", f.calls[1].cmd)
	}
}

func TestMem32SingleAlignment(t *testing.T) {
	f := &fakeTransport{variant: transport.VariantV2}
	p := testProbe(f)

	if _, err := p.GetMem32(0x20000002); !errors.Is(err, ErrAlignment) {
		t.Errorf("GetMem32: expected alignment error, got %v", err)
	}
	if err := p.SetMem32(0x20000001, 1); !errors.Is(err, ErrAlignment) {
		t.Errorf("SetMem32: expected alignment error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("argument violations must not reach the wire, saw %d transfers", len(f.calls))
	}
}

func TestBulkMemoryCommands(t *testing.T) {
	f := &fakeTransport{
		variant: transport.VariantV2,
		replies: [][]byte{make([]byte, 7), make([]byte, 16)},
	}
	p := testProbe(f)

	if _, err := p.ReadMem8(0x20000001, 7); err != nil {
		t.Fatalf("ReadMem8 failed: %v", err)
	}
	if !bytes.Equal(f.calls[0].cmd, []byte{0xf2, 0x0c, 0x01, 0x00, 0x00, 0x20, 0x07, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected read-mem8 command % x", f.calls[0].cmd)
	}
	if f.calls[0].rx != 7 {
		t.Errorf("read-mem8 reply length: expected 7, got %d", f.calls[0].rx)
	}

	if _, err := p.ReadMem32(0x20000000, 16); err != nil {
		t.Fatalf("ReadMem32 failed: %v", err)
	}
	if !bytes.Equal(f.calls[1].cmd, []byte{0xf2, 0x07, 0x00, 0x00, 0x00, 0x20, 0x10, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected read-mem32 command % x", f.calls[1].cmd)
	}

	payload := []byte{1, 2, 3}
	if err := p.WriteMem8(0x20000001, payload); err != nil {
		t.Fatalf("WriteMem8 failed: %v", err)
	}
	if !bytes.Equal(f.calls[2].cmd, []byte{0xf2, 0x0d, 0x01, 0x00, 0x00, 0x20, 0x03, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected write-mem8 command % x", f.calls[2].cmd)
	}
	if !bytes.Equal(f.calls[2].data, payload) {
		t.Errorf("write-mem8 payload: expected % x, got % x", payload, f.calls[2].data)
	}
	if f.calls[2].rx != 0 {
		t.Errorf("write-mem8 has no reply, got rx %d", f.calls[2].rx)
	}

	words := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := p.WriteMem32(0x20000004, words); err != nil {
		t.Fatalf("WriteMem32 failed: %v", err)
	}
	if !bytes.Equal(f.calls[3].cmd, []byte{0xf2, 0x08, 0x04, 0x00, 0x00, 0x20, 0x08, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected write-mem32 command % x", f.calls[3].cmd)
	}
	if !bytes.Equal(f.calls[3].data, words) {
		t.Errorf("write-mem32 payload mismatch: % x", f.calls[3].data)
	}
}

func TestBulkMemoryValidation(t *testing.T) {
	f := &fakeTransport{variant: transport.VariantV2}
	p := testProbe(f)

	if _, err := p.ReadMem8(0x20000000, 65); !errors.Is(err, ErrSize) {
		t.Errorf("ReadMem8 over limit: expected size error, got %v", err)
	}
	if err := p.WriteMem8(0x20000000, make([]byte, 65)); !errors.Is(err, ErrSize) {
		t.Errorf("WriteMem8 over limit: expected size error, got %v", err)
	}
	if _, err := p.ReadMem32(0x20000002, 8); !errors.Is(err, ErrAlignment) {
		t.Errorf("ReadMem32 unaligned address: expected alignment error, got %v", err)
	}
	if _, err := p.ReadMem32(0x20000000, 6); !errors.Is(err, ErrAlignment) {
		t.Errorf("ReadMem32 unaligned size: expected alignment error, got %v", err)
	}
	if _, err := p.ReadMem32(0x20000000, 1028); !errors.Is(err, ErrSize) {
		t.Errorf("ReadMem32 over limit: expected size error, got %v", err)
	}
	if err := p.WriteMem32(0x20000000, make([]byte, 1028)); !errors.Is(err, ErrSize) {
		t.Errorf("WriteMem32 over limit: expected size error, got %v", err)
	}
	if err := p.WriteMem32(0x20000001, make([]byte, 4)); !errors.Is(err, ErrAlignment) {
		t.Errorf("WriteMem32 unaligned address: expected alignment error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("argument violations must not reach the wire, saw %d transfers", len(f.calls))
	}
}

func TestTransportErrorsSurfaceUnchanged(t *testing.T) {
	wire := errors.New("usb: endpoint stalled")
	f := &fakeTransport{variant: transport.VariantV2, err: wire}
	p := testProbe(f)

	if _, err := p.ReadMem8(0x20000000, 4); !errors.Is(err, wire) {
		t.Errorf("expected the transport error unchanged, got %v", err)
	}
}
