// Package config resolves the CLI/env/file configuration shared by both
// binaries through a single viper-backed source of truth, per
// SPEC_FULL.md §4.10.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every knob either binary can take, bound through pflag
// and layered with a YAML config file and ROVER_/MOTHERSHIP_-prefixed
// environment variables (viper precedence: flag > env > file > default).
type Config struct {
	Host         string `mapstructure:"host"`
	TSPort       int    `mapstructure:"ts-port"`
	MLPort       int    `mapstructure:"ml-port"`
	MetricsAddr  string `mapstructure:"metrics-addr"`
	OperatorAddr string `mapstructure:"operator-addr"`
	LogLevel     string `mapstructure:"log-level"`

	// Mothership-only.
	Scenario int `mapstructure:"scenario"`

	// Rover-only. Dest is populated from the --dest flag after parsing
	// (see Load), not through viper/mapstructure, since it is a single
	// flag carrying three values rather than one.
	ID       int        `mapstructure:"id"`
	Dest     [3]float64 `mapstructure:"-"`
	Velocity float64    `mapstructure:"vel"`
	Tick     float64    `mapstructure:"tick"`
}

// vec3Flag implements pflag.Value for a flag that takes three floats as
// one argument, e.g. "--dest 10,20,0" or "--dest 10 20 0" (quoted).
type vec3Flag struct {
	v [3]float64
}

func (f *vec3Flag) String() string {
	return fmt.Sprintf("%g,%g,%g", f.v[0], f.v[1], f.v[2])
}

func (f *vec3Flag) Set(s string) error {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(parts) != 3 {
		return fmt.Errorf("want 3 comma- or space-separated floats, got %d", len(parts))
	}
	var out [3]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fmt.Errorf("%q: %w", p, err)
		}
		out[i] = x
	}
	f.v = out
	return nil
}

func (f *vec3Flag) Type() string { return "x,y,z" }

// BindMothershipFlags registers the mothership's flag surface on flags
// (spec.md §6 plus the ambient additions of SPEC_FULL.md §4.10).
func BindMothershipFlags(flags *pflag.FlagSet) {
	flags.String("host", "0.0.0.0", "bind host")
	flags.Int("ts-port", 6000, "TS (telemetry stream) TCP port")
	flags.Int("ml-port", 50000, "ML (MissionLink) UDP port")
	flags.Int("scenario", 1, "mission scenario (1..4)")
	flags.String("metrics-addr", ":9090", "prometheus /metrics listen address")
	flags.String("operator-addr", ":8080", "operator websocket sink listen address")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
}

// BindRoverFlags registers the rover's flag surface.
func BindRoverFlags(flags *pflag.FlagSet) {
	flags.String("host", "127.0.0.1", "mothership host")
	flags.Int("ts-port", 6000, "TS (telemetry stream) TCP port")
	flags.Int("ml-port", 50000, "ML (MissionLink) UDP port")
	flags.Int("id", 1, "rover id (1..N)")
	flags.Var(&vec3Flag{}, "dest", "initial destination, as \"x,y,z\" or \"x y z\"")
	flags.Float64("vel", 1.0, "velocity units/s")
	flags.Float64("tick", 0.5, "simulation tick period, seconds")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
}

// Load builds a Config from flags, an optional config file, and
// prefix-scoped environment variables.
func Load(flags *pflag.FlagSet, envPrefix, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("config: binding flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if f := flags.Lookup("dest"); f != nil {
		if vf, ok := f.Value.(*vec3Flag); ok {
			cfg.Dest = vf.v
		}
	}

	return cfg, nil
}
