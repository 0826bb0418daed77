// Package config holds runtime settings loaded from the environment and the
// compiled-in domain constants. There is no config file: everything tunable
// lives here as a constant, everything secret comes from env.
package config

import (
	"os"
	"time"
)

// Config holds process-level settings resolved once at startup.
type Config struct {
	KeyCRMAPIKey       string `json:"-"`
	KeyCRMBaseURL      string `json:"keycrm_base_url"`
	DashboardSecretKey string `json:"-"`
	DBPath             string `json:"db_path"`
	DataDir            string `json:"data_dir"`
	Port               int    `json:"port"`
}

// FromEnv builds a Config from the process environment. Missing optional
// values fall back to defaults; KEYCRM_API_KEY is validated by the caller
// because tests run without it.
func FromEnv() *Config {
	return &Config{
		KeyCRMAPIKey:       os.Getenv("KEYCRM_API_KEY"),
		KeyCRMBaseURL:      envOrDefault("KEYCRM_BASE_URL", "https://openapi.keycrm.app/v1"),
		DashboardSecretKey: os.Getenv("DASHBOARD_SECRET_KEY"),
		DBPath:             envOrDefault("DB_PATH", "analytics.db"),
		DataDir:            envOrDefault("DATA_DIR", "."),
		Port:               8000,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Kyiv is the reporting timezone. Every order_date and every schedule runs in
// it; a fixed offset would break across the DST switch, so the IANA zone is
// loaded once here.
var Kyiv = mustLoadKyiv()

func mustLoadKyiv() *time.Location {
	loc, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		// Older tzdata ships the pre-2022 spelling.
		loc, err = time.LoadLocation("Europe/Kiev")
		if err != nil {
			panic("config: no Kyiv timezone in tzdata: " + err.Error())
		}
	}
	return loc
}

// Sales channel IDs as assigned upstream. Opencart (3) is legacy and excluded
// from every dashboard aggregate.
const (
	SourceInstagram = 1
	SourceTelegram  = 2
	SourceOpencart  = 3
	SourceShopify   = 4
)

// ActiveSources are the channels that count toward dashboard metrics.
var ActiveSources = []int{SourceInstagram, SourceTelegram, SourceShopify}

// SourceNames maps channel IDs to display names.
var SourceNames = map[int]string{
	SourceInstagram: "Instagram",
	SourceTelegram:  "Telegram",
	SourceShopify:   "Shopify",
}

// SourceColors maps channel IDs to the dashboard palette.
var SourceColors = map[int]string{
	SourceInstagram: "#7C3AED",
	SourceTelegram:  "#2563EB",
	SourceShopify:   "#eb4200",
}

// ReturnStatusIDs are the upstream order statuses that mean returned/canceled.
var ReturnStatusIDs = []int{19, 21, 22, 23}

// IsReturnStatus reports whether the status marks a return or cancellation.
func IsReturnStatus(statusID int) bool {
	switch statusID {
	case 19, 21, 22, 23:
		return true
	}
	return false
}

// Manager assignment drives the sales-type split: one wholesale manager, a
// fixed retail roster, everything else is "other".
const B2BManagerID = 15

var RetailManagerIDs = map[int]bool{
	4: true, 8: true, 11: true, 16: true, 17: true, 19: true, 22: true,
}

// Sync engine tuning.
const (
	SyncPageSize        = 50
	SyncPagePause       = 300 * time.Millisecond
	SyncBaseInterval    = 300 * time.Second
	SyncMaxInterval     = 1800 * time.Second
	SyncLookBack        = 24 * time.Hour
	UpstreamTimeout     = 30 * time.Second
	UpstreamMaxAttempts = 3
)

// OffHours reports whether t falls in the 02:00-08:00 Kyiv window where the
// backoff cap is doubled.
func OffHours(t time.Time) bool {
	h := t.In(Kyiv).Hour()
	return h >= 2 && h < 8
}
