// Package config parses the statseg options recognized by the enclosing
// runtime's configuration stanza (spec §6.1). The core never reads a
// config file itself — this package only turns already-tokenized options
// into a validated Config, the same division of labor the teacher's CLI
// layer keeps between flag parsing and the shm package underneath it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quarkline/statseg/staterr"
)

// DefaultUpdateInterval matches stat_segment.c's statseg_config: 10
// seconds (spec §4.6, §6.1).
const DefaultUpdateInterval = 10 * time.Second

// DefaultSocketName is appended to the runtime directory when socket-name
// is not given explicitly (spec §6.1, §4.7).
const DefaultSocketName = "stats.sock"

// Config holds the validated result of parsing the `statseg { ... }`
// stanza.
type Config struct {
	SocketName         string
	Size               int
	PageSize           string
	PerNodeCounters    bool
	UpdateInterval     time.Duration
}

// Default returns the configuration in effect when no options are given.
func Default(runtimeDir string) Config {
	return Config{
		SocketName:      runtimeDir + "/" + DefaultSocketName,
		Size:            0, // segment.DefaultSize
		PageSize:        "",
		PerNodeCounters: false,
		UpdateInterval:  DefaultUpdateInterval,
	}
}

// Parse reads a comma-separated `key=value` option list (the Go-side
// equivalent of VPP's `unformat`-driven statseg_config loop) and returns a
// Config seeded from Default(runtimeDir). Unrecognized keys fail with
// staterr.ConfigError (spec §7), matching the original's
// `clib_error_return (0, "unknown input ...")` branch.
func Parse(runtimeDir string, options string) (Config, error) {
	cfg := Default(runtimeDir)
	if strings.TrimSpace(options) == "" {
		return cfg, nil
	}

	for _, field := range strings.Split(options, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Config{}, staterr.ConfigError(fmt.Sprintf("unknown input `%s'", field))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "socket-name":
			cfg.SocketName = value
		case "size":
			n, err := parseByteSize(value)
			if err != nil {
				return Config{}, staterr.ConfigError(fmt.Sprintf("size %q: %v", value, err))
			}
			cfg.Size = n
		case "page-size":
			cfg.PageSize = value
		case "per-node-counters":
			switch value {
			case "on":
				cfg.PerNodeCounters = true
			case "off":
				cfg.PerNodeCounters = false
			default:
				return Config{}, staterr.ConfigError(fmt.Sprintf("per-node-counters %q: must be on or off", value))
			}
		case "update-interval":
			secs, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Config{}, staterr.ConfigError(fmt.Sprintf("update-interval %q: %v", value, err))
			}
			cfg.UpdateInterval = time.Duration(secs * float64(time.Second))
		default:
			return Config{}, staterr.ConfigError(fmt.Sprintf("unknown input `%s'", key))
		}
	}

	return cfg, nil
}

// parseByteSize accepts a bare byte count or a k/m/g suffixed shorthand
// (4096, 4k, 32m, 1g), matching the spirit of VPP's unformat_memory_size.
func parseByteSize(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := 1
	suffix := s[len(s)-1]
	numeric := s
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		numeric = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		numeric = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		numeric = s[:len(s)-1]
	}
	n, err := strconv.Atoi(numeric)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return n * mult, nil
}
