// swdprobe: command-line front end over the ST-Link/V2 SWD driver.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"encoding/hex"
	"flag"

	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"swdprobe/internal/config"
	"swdprobe/internal/probe"
	"swdprobe/internal/transport"
	"swdprobe/pkg/swd"
)

// CLI configuration flags
var (
	serialFlag = flag.String("serial", "", "probe USB serial (overrides STLINK_SERIAL)")
	freqFlag   = flag.Uint("freq", 0, "requested SWD frequency in Hz (overrides SWD_FREQUENCY_HZ)")
)

var (
	addrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	asciiStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: swdprobe [flags] <command> [args]

commands:
  version                     probe identity string
  voltage                     target supply voltage
  idcode                      target debug port IDCODE
  reg <id>                    read core register
  reg <id> <value>            write core register
  read32 <addr>               read one word
  write32 <addr> <value>      write one word
  dump <addr> <len>           hex dump of target memory
  write <addr> [file]         write file (or stdin) to target memory
  fill <addr> <len> <hex>     fill memory with a byte pattern

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadProbeConfig()
	if err != nil {
		log.Fatal(err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if *serialFlag != "" {
		cfg.Serial = *serialFlag
	}
	if *freqFlag != 0 {
		cfg.FrequencyHz = uint32(*freqFlag)
	}

	tr, err := transport.OpenUSB(cfg.Serial)
	if err != nil {
		log.Fatal(err)
	}
	p, err := probe.Open(tr, cfg.FrequencyHz)
	if err != nil {
		tr.Close()
		log.Fatal(err)
	}
	defer p.Close()

	if err := run(swd.New(p), args); err != nil {
		log.Fatal(err)
	}
}

func run(drv *swd.SWD, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Println(drv.Version())
		return nil

	case "voltage":
		v, ok, err := drv.TargetVoltage()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("n/a")
			return nil
		}
		fmt.Printf("%.2f V\n", v)
		return nil

	case "idcode":
		id, err := drv.IDCode()
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x\n", id)
		return nil

	case "reg":
		if len(args) != 1 && len(args) != 2 {
			return fmt.Errorf("reg takes <id> or <id> <value>")
		}
		id, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad register id %q: %w", args[0], err)
		}
		if len(args) == 2 {
			value, err := parseNum(args[1])
			if err != nil {
				return fmt.Errorf("bad value %q: %w", args[1], err)
			}
			return drv.SetReg(uint8(id), value)
		}
		value, err := drv.Reg(uint8(id))
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x\n", value)
		return nil

	case "read32":
		if len(args) != 1 {
			return fmt.Errorf("read32 takes <addr>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		value, err := drv.Mem32(addr)
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x\n", value)
		return nil

	case "write32":
		if len(args) != 2 {
			return fmt.Errorf("write32 takes <addr> <value>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		value, err := parseNum(args[1])
		if err != nil {
			return fmt.Errorf("bad value %q: %w", args[1], err)
		}
		return drv.SetMem32(addr, value)

	case "dump":
		if len(args) != 2 {
			return fmt.Errorf("dump takes <addr> <len>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		size, err := parseNum(args[1])
		if err != nil {
			return fmt.Errorf("bad length %q: %w", args[1], err)
		}
		return hexdump(os.Stdout, drv.ReadMem(addr, size), addr)

	case "write":
		if len(args) != 1 && len(args) != 2 {
			return fmt.Errorf("write takes <addr> [file]")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		src := io.Reader(os.Stdin)
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}
		return drv.WriteMem(addr, src)

	case "fill":
		if len(args) != 3 {
			return fmt.Errorf("fill takes <addr> <len> <hex-pattern>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		size, err := parseNum(args[1])
		if err != nil {
			return fmt.Errorf("bad length %q: %w", args[1], err)
		}
		pattern, err := hex.DecodeString(strings.TrimPrefix(args[2], "0x"))
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", args[2], err)
		}
		return drv.FillMem(addr, pattern, size)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseNum accepts decimal, 0x-hex and octal forms.
func parseNum(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func hexdump(w io.Writer, r io.Reader, base uint32) error {
	buf := make([]byte, 16)
	offset := base
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			fmt.Fprintf(w, "%s  %-48s %s\n",
				addrStyle.Render(fmt.Sprintf("%08x", offset)),
				hexBytes(buf[:n]),
				asciiStyle.Render(printable(buf[:n])))
			offset += uint32(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}

func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
