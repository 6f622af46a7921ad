package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ProbeConfig carries the host-side settings for opening a probe.
type ProbeConfig struct {
	Serial      string // USB serial of the probe to open; empty means the only one connected
	FrequencyHz uint32 // requested SWD clock
	LogLevel    string
}

// DefaultFrequencyHz matches the probe's own power-on default.
const DefaultFrequencyHz = 1800000

var (
	probeConfig  *ProbeConfig
	configLoaded bool
)

// LoadProbeConfig reads an optional .env file from the working
// directory and applies environment-variable overrides. The result is
// cached for the life of the process.
func LoadProbeConfig() (*ProbeConfig, error) {
	if probeConfig != nil && configLoaded {
		return probeConfig, nil
	}

	cfg := &ProbeConfig{
		FrequencyHz: DefaultFrequencyHz,
		LogLevel:    "info",
	}

	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	if serial := os.Getenv("STLINK_SERIAL"); serial != "" {
		cfg.Serial = serial
	}
	if hz := os.Getenv("SWD_FREQUENCY_HZ"); hz != "" {
		v, err := strconv.ParseUint(hz, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SWD_FREQUENCY_HZ %q: %w", hz, err)
		}
		cfg.FrequencyHz = uint32(v)
	}
	if level := os.Getenv("SWD_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	probeConfig = cfg
	configLoaded = true
	return cfg, nil
}
