package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"MAX_CONCURRENT_JOBS", "JOB_TIMEOUT_SEC", "DOWNLOAD_TIMEOUT_SEC",
		"BILLS_ROOT", "COMMITTEE_REPORT_URL_PATTERN", "PORT",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, DefaultMaxConcurrentJobs, cfg.MaxConcurrentJobs)
	assert.Equal(t, time.Hour, cfg.JobTimeout)
	assert.Equal(t, 60*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, "bills", cfg.BillsRoot)
	assert.Equal(t, "CommReports", cfg.CommitteeReportURLPattern)
	assert.Equal(t, "8080", cfg.Port)
}

func TestConcurrencyClampedToCeiling(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "25")
	cfg := Load()
	assert.Equal(t, MaxConcurrentJobsCeiling, cfg.MaxConcurrentJobs)

	t.Setenv("MAX_CONCURRENT_JOBS", "0")
	cfg = Load()
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_HOST", "portal.example.gov")
	t.Setenv("JOB_TIMEOUT_SEC", "120")
	t.Setenv("MAX_CONCURRENT_JOBS", "3")

	cfg := Load()
	assert.Equal(t, "portal.example.gov", cfg.PortalHost)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
}

func TestMalformedIntFallsBack(t *testing.T) {
	t.Setenv("JOB_TIMEOUT_SEC", "soon")
	cfg := Load()
	assert.Equal(t, time.Hour, cfg.JobTimeout)
}
