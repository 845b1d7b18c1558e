// Package config loads the all2gpx YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Bucknalla/all2gpx/gps"
	"github.com/Bucknalla/all2gpx/track"
)

// Config is the application configuration. Command line flags override
// values read from the file.
type Config struct {
	Input        string  `yaml:"input"`
	Output       string  `yaml:"output" validate:"required"`
	Extension    string  `yaml:"extension" validate:"required,startswith=."`
	Workers      int     `yaml:"workers" validate:"gte=1,lte=256"`
	AbortOnError bool    `yaml:"abort_on_error"`
	GateSeconds  float64 `yaml:"gate_seconds" validate:"gte=0"` // 0 keeps every fix
	Database     string  `yaml:"database"`
	Plot         string  `yaml:"plot"`
	Quiet        bool    `yaml:"quiet"`
	Replay       Replay  `yaml:"replay"`
	Web          Web     `yaml:"web"`
}

// Replay configures NMEA replay of an extracted track
type Replay struct {
	Enabled    bool          `yaml:"enabled"`
	Track      string        `yaml:"track"` // empty picks the first track with points
	SerialPort string        `yaml:"serial_port"`
	BaudRate   int           `yaml:"baud_rate" validate:"gt=0"`
	Rate       time.Duration `yaml:"rate" validate:"gt=0"`
	Speed      float64       `yaml:"speed" validate:"gt=0"`
	Loop       bool          `yaml:"loop"`
	Satellites int           `yaml:"satellites" validate:"gte=4,lte=12"`
}

// Web configures the HTTP server
type Web struct {
	Listen  string `yaml:"listen" validate:"required"`
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	rc := gps.DefaultReplayConfig()
	return Config{
		Output:    "-",
		Extension: track.DefaultExtension,
		Workers:   1,
		Replay: Replay{
			BaudRate:   rc.BaudRate,
			Rate:       rc.Rate,
			Speed:      rc.Speed,
			Satellites: rc.Satellites,
		},
		Web: Web{Listen: ":8080", DataDir: "."},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its field constraints
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

// TrackOptions returns the extraction options for this configuration
func (c Config) TrackOptions() track.Options {
	var opts track.Options
	if c.GateSeconds > 0 {
		opts.Accept = track.GateWithin(time.Duration(c.GateSeconds * float64(time.Second)))
	}
	return opts
}

// ReplayConfig returns the NMEA replay settings
func (c Config) ReplayConfig() gps.ReplayConfig {
	return gps.ReplayConfig{
		Satellites: c.Replay.Satellites,
		Rate:       c.Replay.Rate,
		Speed:      c.Replay.Speed,
		Loop:       c.Replay.Loop,
		SerialPort: c.Replay.SerialPort,
		BaudRate:   c.Replay.BaudRate,
	}
}
