package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"pricerefresh/internal/holding"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	// CronToken is the shared secret the external trigger must present.
	CronToken string `json:"cron_token"`
}

type Cache struct {
	StalenessMinutes int `json:"staleness_minutes"`
	// DBPath enables sqlite persistence of last-known prices when set.
	DBPath string `json:"db_path"`
}

type Scheduler struct {
	// Enabled turns the internal timers on. When false the pipeline runs
	// only via the external /tasks/run trigger.
	Enabled        bool `json:"enabled"`
	PricesEveryMin int  `json:"prices_every_min"`
	RatesEveryMin  int  `json:"rates_every_min"`
}

type Yahoo struct {
	Enabled       bool   `json:"enabled"`
	Endpoint      string `json:"endpoint"`
	ChartEndpoint string `json:"chart_endpoint"`
}

type Stooq struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type HL struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	// KnownFunds maps fund identifiers (name or ISIN) to the fund code the
	// scraper fetches. Only these funds ever hit the scraper.
	KnownFunds map[string]string `json:"known_funds"`
}

type CoinGecko struct {
	Enabled               bool   `json:"enabled"`
	Endpoint              string `json:"endpoint"`
	RetryMaxAttempts      int    `json:"retry_max_attempts"`
	RetryInitialBackoffMs int    `json:"retry_initial_backoff_ms"`
}

type FX struct {
	Endpoint   string `json:"endpoint"`
	TTLMinutes int    `json:"ttl_minutes"`
	// Currencies to pre-fetch into the reporting currency on the rates job.
	Currencies []string `json:"currencies"`
}

type Config struct {
	ReportingCurrency string            `json:"reporting_currency"`
	Server            Server            `json:"server"`
	Cache             Cache             `json:"cache"`
	Scheduler         Scheduler         `json:"scheduler"`
	Yahoo             Yahoo             `json:"yahoo"`
	Stooq             Stooq             `json:"stooq"`
	HL                HL                `json:"hl"`
	CoinGecko         CoinGecko         `json:"coingecko"`
	FX                FX                `json:"fx"`
	Holdings          []holding.Holding `json:"holdings"`
}

func Default() Config {
	return Config{
		ReportingCurrency: "GBP",
		Server:            Server{Port: "8080", RequestTimeoutSec: 10},
		Cache:             Cache{StalenessMinutes: 20},
		Scheduler:         Scheduler{Enabled: true, PricesEveryMin: 15, RatesEveryMin: 60},
		Yahoo:             Yahoo{Enabled: true},
		Stooq:             Stooq{Enabled: true},
		HL: HL{
			Enabled: true,
			KnownFunds: map[string]string{
				"Baillie Gifford Positive Change B - Acc":         "BYVGKV5",
				"Fidelity Global Technology W - Acc":              "BJVDZ16",
				"Ninety One GSF Global Natural Resources I - Acc": "B1XK9C8",
				"UBS S&P 500 Index C - Acc":                       "BMN91T3",
			},
		},
		CoinGecko: CoinGecko{Enabled: true, RetryMaxAttempts: 3, RetryInitialBackoffMs: 500},
		FX:        FX{TTLMinutes: 60, Currencies: []string{"USD", "EUR"}},
	}
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("CRON_TOKEN"); v != "" {
		cfg.Server.CronToken = v
	}
	if v := os.Getenv("REPORTING_CURRENCY"); v != "" {
		cfg.ReportingCurrency = strings.ToUpper(v)
	}
	if v := os.Getenv("STALENESS_MINUTES"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Cache.StalenessMinutes = x
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Cache.DBPath = v
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = truthy(v)
	}
	if v := os.Getenv("PRICES_EVERY_MIN"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Scheduler.PricesEveryMin = x
		}
	}
	if v := os.Getenv("RATES_EVERY_MIN"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Scheduler.RatesEveryMin = x
		}
	}
	if v := os.Getenv("YAHOO_ENDPOINT"); v != "" {
		cfg.Yahoo.Endpoint = v
	}
	if v := os.Getenv("STOOQ_ENDPOINT"); v != "" {
		cfg.Stooq.Endpoint = v
	}
	if v := os.Getenv("HL_BASE_URL"); v != "" {
		cfg.HL.BaseURL = v
	}
	if v := os.Getenv("COINGECKO_ENDPOINT"); v != "" {
		cfg.CoinGecko.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_RETRY_MAX_ATTEMPTS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.CoinGecko.RetryMaxAttempts = x
		}
	}
	if v := os.Getenv("COINGECKO_RETRY_INITIAL_BACKOFF_MS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.CoinGecko.RetryInitialBackoffMs = x
		}
	}
	if v := os.Getenv("FX_ENDPOINT"); v != "" {
		cfg.FX.Endpoint = v
	}
	if v := os.Getenv("FX_TTL_MINUTES"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.FX.TTLMinutes = x
		}
	}
	if v := os.Getenv("FX_CURRENCIES"); v != "" {
		cfg.FX.Currencies = splitCSV(v)
	}
}

func atoi(s string) int {
	var x int
	fmt.Sscanf(s, "%d", &x)
	return x
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
