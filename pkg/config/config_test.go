package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcclellann/lendengine/pkg/engine"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfiguration_Defaults(t *testing.T) {
	conf, err := LoadConfiguration("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.Server.Address)
	assert.Equal(t, "./lending.db", conf.Database.Path)
	assert.Equal(t, "info", conf.Logging.Level)
	assert.Equal(t, "json", conf.Logging.Format)
	assert.Equal(t, "@daily", conf.Penalties.SweepSchedule)
	assert.Equal(t, 4, conf.Penalties.SweepConcurrency)

	order, err := conf.AllocationOrder()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultAllocationOrder, order)
}

func TestLoadConfiguration_File(t *testing.T) {
	path := writeConfig(t, `
server:
  address: 127.0.0.1:9090
database:
  path: /tmp/loans.db
logging:
  level: debug
  format: console
  outputFile: /tmp/lending.log
penalties:
  sweepSchedule: "0 2 * * *"
  sweepConcurrency: 8
allocation:
  order: [Principal, interest, fee, penalty]
`)

	conf, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", conf.Server.Address)
	assert.Equal(t, "/tmp/loans.db", conf.Database.Path)
	assert.Equal(t, "debug", conf.Logging.Level)
	assert.Equal(t, "console", conf.Logging.Format)
	assert.Equal(t, "/tmp/lending.log", conf.Logging.OutputFile)
	assert.Equal(t, "0 2 * * *", conf.Penalties.SweepSchedule)
	assert.Equal(t, 8, conf.Penalties.SweepConcurrency)

	order, err := conf.AllocationOrder()
	require.NoError(t, err)
	assert.Equal(t, []models.Bucket{models.BucketPrincipal, models.BucketInterest, models.BucketFee, models.BucketPenalty}, order)
}

func TestLoadConfiguration_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  path: /tmp/from-file.db\n")
	t.Setenv("LENDING_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("LENDING_PENALTIES_SWEEPCONCURRENCY", "2")

	conf, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", conf.Database.Path)
	assert.Equal(t, 2, conf.Penalties.SweepConcurrency)
}

func TestLoadConfiguration_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad cron spec", "penalties:\n  sweepSchedule: every tuesday\n"},
		{"zero concurrency", "penalties:\n  sweepConcurrency: 0\n"},
		{"incomplete allocation order", "allocation:\n  order: [penalty, fee]\n"},
		{"unknown bucket", "allocation:\n  order: [penalty, fee, interest, escrow]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfiguration(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfiguration("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoadConfiguration_EmptyScheduleDisablesSweep(t *testing.T) {
	conf, err := LoadConfiguration(writeConfig(t, "penalties:\n  sweepSchedule: \"\"\n"))
	require.NoError(t, err)
	assert.Empty(t, conf.Penalties.SweepSchedule)
}
