package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	hh, ok := cfg.Category("householder")
	require.True(t, ok)
	assert.True(t, hh.AllowsDecision("granted"))
	assert.False(t, hh.AllowsDecision("not_required"))

	pa, ok := cfg.Category("prior_approval")
	require.True(t, ok)
	assert.True(t, pa.AllowsDecision("not_required"))

	cal, err := cfg.BusinessCalendar()
	require.NoError(t, err)
	xmas, err := cal.ParseDate("2025-12-25")
	require.NoError(t, err)
	assert.False(t, cal.IsBusinessDay(xmas))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no categories", func(c *Config) { c.Categories = nil }},
		{"expiry before target", func(c *Config) {
			cat := c.Categories["full"]
			cat.ExpiryDays = cat.TargetDays - 1
			c.Categories["full"] = cat
		}},
		{"empty decisions", func(c *Config) {
			cat := c.Categories["major"]
			cat.Decisions = nil
			c.Categories["major"] = cat
		}},
		{"response due", func(c *Config) { c.Requests.ResponseDueDays = 0 }},
		{"bad holiday", func(c *Config) { c.Calendar.Holidays = append(c.Calendar.Holidays, "soon") }},
		{"webhook url", func(c *Config) { c.Notifications.Webhooks = []Webhook{{Events: []string{"case_validated"}}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "caseline.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 15, cfg.Requests.ResponseDueDays)

	_, err = FromYAML([]byte("categories: [oops"))
	assert.Error(t, err)
}
