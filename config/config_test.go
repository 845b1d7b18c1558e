package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "all2gpx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".all", cfg.Extension)
	assert.Equal(t, "-", cfg.Output)
	assert.Equal(t, 1, cfg.Workers)
	assert.Nil(t, cfg.TrackOptions().Accept)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
input: /surveys/2024
output: tracks.gpx
workers: 4
gate_seconds: 30
database: catalog.db
replay:
  serial_port: /dev/ttyUSB0
  rate: 500ms
  speed: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/surveys/2024", cfg.Input)
	assert.Equal(t, "tracks.gpx", cfg.Output)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, ".all", cfg.Extension)
	assert.Equal(t, "catalog.db", cfg.Database)
	assert.Equal(t, 500*time.Millisecond, cfg.Replay.Rate)
	assert.Equal(t, 9600, cfg.Replay.BaudRate)

	rc := cfg.ReplayConfig()
	assert.Equal(t, 4.0, rc.Speed)
	assert.Equal(t, "/dev/ttyUSB0", rc.SerialPort)
	require.NoError(t, rc.Validate())

	accept := cfg.TrackOptions().Accept
	require.NotNil(t, accept)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, accept(start.Add(29*time.Second), start))
	assert.False(t, accept(start.Add(30*time.Second), start))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"zero workers", "workers: 0\n", "Workers"},
		{"extension without dot", "extension: all\n", "Extension"},
		{"negative gate", "gate_seconds: -1\n", "GateSeconds"},
		{"too many satellites", "replay:\n  satellites: 20\n", "Satellites"},
		{"empty listen", "web:\n  listen: \"\"\n", "Listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.field, verrs[0].Field())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "workers: [1, 2\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}
