package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capexline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("2025")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "2025", cfg.Cycle.ID)
	assert.True(t, cfg.Production())
	assert.Equal(t, "4250", cfg.ExchangeRate().String())
	assert.Equal(t, "19", cfg.VATRate().String())
	assert.Equal(t, "0.3", cfg.RatioFloor().String())
	assert.Equal(t, "0.15", cfg.AdjustmentThreshold().String())
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout())
	assert.Contains(t, cfg.Permissions("DIR"), "planning.approve")
	assert.NotContains(t, cfg.Permissions("AUDIT"), "planning.edit")
	assert.Nil(t, cfg.Permissions("GUEST"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"cycle", func(c *Config) { c.Cycle.ID = "" }, "cycle.id"},
		{"mode", func(c *Config) { c.Cycle.Mode = "staging" }, "cycle.mode"},
		{"rate", func(c *Config) { c.Currency.ExchangeRate = "0" }, "exchange_rate"},
		{"vat", func(c *Config) { c.Currency.VATRate = "120" }, "vat_rate"},
		{"band", func(c *Config) { c.Validation.RatioUpper = "0.1" }, "ratio_upper"},
		{"threshold", func(c *Config) { c.FollowUp.AdjustmentThreshold = "x" }, "adjustment_threshold"},
		{"field", func(c *Config) { c.Planning.IdentificationRequired = []string{"colour"} }, "colour"},
		{"checklist", func(c *Config) { c.Planning.PressureTestChecklist = []string{"vibes"} }, "vibes"},
		{"admin", func(c *Config) { delete(c.RBAC.Roles, "ADMIN") }, "ADMIN"},
		{"webhook", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "webhooks[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("2025")
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "capex.yml"), []byte(GenerateDefault("FY26")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "FY26", cfg.Cycle.ID)

	_, err = FromYAML([]byte("cycle: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestChecklistDefaultsToReviewItems(t *testing.T) {
	cfg := Default("2025")
	assert.Equal(t, []domain.ReviewItem{
		domain.ReviewSupportFiles, domain.ReviewValueAtRisk, domain.ReviewMethodology, domain.ReviewNPVAssumptions,
	}, cfg.Checklist())

	cfg.Planning.PressureTestChecklist = nil
	assert.Len(t, cfg.Checklist(), 4, "configs written before the checklist existed still get it")

	cfg.Planning.PressureTestChecklist = []string{}
	assert.Empty(t, cfg.Checklist(), "an explicit empty list disables the checklist")
}
