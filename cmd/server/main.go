package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pricerefresh/internal/config"
	"pricerefresh/internal/fx"
	"pricerefresh/internal/httpx"
	"pricerefresh/internal/normalize"
	"pricerefresh/internal/pricestore"
	"pricerefresh/internal/resolver"
	"pricerefresh/internal/scheduler"
	"pricerefresh/internal/source"
	"pricerefresh/internal/source/coingecko"
	"pricerefresh/internal/source/hl"
	"pricerefresh/internal/source/stooq"
	"pricerefresh/internal/source/yahoo"
	"pricerefresh/internal/symbols"
)

const (
	jobPrices = "prices"
	jobRates  = "rates"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Server.CronToken == "" {
		log.Println("warning: CRON_TOKEN not set; /tasks/run will reject all callers")
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	sources := buildSources(cfg, httpClient)
	rates := fx.New(fx.Config{
		Endpoint: cfg.FX.Endpoint,
		TTL:      time.Duration(cfg.FX.TTLMinutes) * time.Minute,
	}, httpClient.HTTP)
	norm := normalize.New(cfg.ReportingCurrency, rates)
	mapper := symbols.NewMapper(cfg.HL.KnownFunds, cfg.ReportingCurrency)
	res := resolver.New(mapper, sources, norm)

	var store pricestore.Store
	threshold := time.Duration(cfg.Cache.StalenessMinutes) * time.Minute
	if cfg.Cache.DBPath != "" {
		s, err := pricestore.OpenSQLite(cfg.Cache.DBPath, threshold)
		if err != nil {
			log.Fatalf("price store: %v", err)
		}
		defer s.Close()
		store = s
	} else {
		store = pricestore.NewMemory(threshold)
	}

	holdings := cfg.Holdings

	sched := scheduler.New()
	sched.Register(jobPrices, minutes(cfg.Scheduler.PricesEveryMin), func(ctx context.Context) {
		n := res.RefreshAll(ctx, holdings, store)
		log.Printf("price refresh cycle done: %d/%d holdings updated", n, len(holdings))
	})
	sched.Register(jobRates, minutes(cfg.Scheduler.RatesEveryMin), func(ctx context.Context) {
		if err := rates.Refresh(ctx, cfg.FX.Currencies, cfg.ReportingCurrency); err != nil {
			log.Printf("rates refresh: %v", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
	} else {
		log.Println("internal scheduler disabled; refreshes run only via /tasks/run")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/tasks/run", func(w http.ResponseWriter, r *http.Request) {
		handleTasksRun(w, r, sched, cfg.Server.CronToken)
	})
	mux.HandleFunc("/api/prices", func(w http.ResponseWriter, r *http.Request) {
		handlePrices(w, r, store, sched)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(recoverPanic(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sched.Wait()
}

func buildSources(cfg config.Config, hc *httpx.Client) map[string]source.Source {
	sources := make(map[string]source.Source, 4)
	if cfg.Yahoo.Enabled {
		sources[symbols.SourceYahoo] = yahoo.New(yahoo.Config{Name: symbols.SourceYahoo, URL: cfg.Yahoo.Endpoint, ChartURL: cfg.Yahoo.ChartEndpoint}, hc)
	}
	if cfg.Stooq.Enabled {
		sources[symbols.SourceStooq] = stooq.New(stooq.Config{Name: symbols.SourceStooq, URL: cfg.Stooq.Endpoint}, hc)
	}
	if cfg.HL.Enabled {
		funds := make([]string, 0, len(cfg.HL.KnownFunds))
		for _, code := range cfg.HL.KnownFunds {
			funds = append(funds, code)
		}
		sources[symbols.SourceHL] = hl.New(hl.Config{Name: symbols.SourceHL, BaseURL: cfg.HL.BaseURL, Funds: funds}, hc)
	}
	if cfg.CoinGecko.Enabled {
		sources[symbols.SourceCoinGecko] = coingecko.New(coingecko.Config{
			Name:           symbols.SourceCoinGecko,
			URL:            cfg.CoinGecko.Endpoint,
			Currency:       cfg.ReportingCurrency,
			MaxAttempts:    cfg.CoinGecko.RetryMaxAttempts,
			InitialBackoff: time.Duration(cfg.CoinGecko.RetryInitialBackoffMs) * time.Millisecond,
		}, hc)
	}
	return sources
}

type runResponse struct {
	OK      bool   `json:"ok"`
	Started string `json:"started,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleTasksRun is the externally triggered refresh entry point, meant for a
// periodic caller (e.g. a hosted cron) when the process may be idle between
// requests. Bearer token, task selected by the t query parameter.
func handleTasksRun(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler, token string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
		log.Println("unauthorized task trigger attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	task := strings.TrimSpace(r.URL.Query().Get("t"))
	if task == "" {
		writeJSON(w, http.StatusBadRequest, runResponse{Error: "missing task parameter t"})
		return
	}
	// The cycle outlives the request: the 202 goes out immediately and the
	// request context is canceled with it, so the job must not inherit
	// that cancellation.
	switch err := sched.Trigger(context.WithoutCancel(r.Context()), task); {
	case err == nil:
		log.Printf("started external task: %s", task)
		writeJSON(w, http.StatusAccepted, runResponse{OK: true, Started: task})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, runResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, runResponse{Error: err.Error()})
	}
}

type priceStatus struct {
	Holding       string    `json:"holding"`
	Price         string    `json:"price"`
	Currency      string    `json:"currency"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
	State         string    `json:"state"`
	AgeSec        int64     `json:"age_sec"`
	NextRefreshAt time.Time `json:"next_refresh_at,omitempty"`
}

type pricesResponse struct {
	Prices []priceStatus `json:"prices"`
}

// handlePrices reports last fetch time and freshness per holding so the
// presentation layer can render staleness banners.
func handlePrices(w http.ResponseWriter, r *http.Request, store pricestore.Store, sched *scheduler.Scheduler) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cadence := sched.Interval(jobPrices)
	snap := store.Snapshot()
	out := make([]priceStatus, 0, len(snap))
	for _, s := range snap {
		ps := priceStatus{
			Holding:   s.Holding,
			Price:     s.Price.String(),
			Currency:  s.Currency,
			Source:    s.Source,
			FetchedAt: s.FetchedAt,
			State:     s.State.String(),
			AgeSec:    int64(s.Age / time.Second),
		}
		if cadence > 0 {
			ps.NextRefreshAt = s.FetchedAt.Add(cadence)
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, pricesResponse{Prices: out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic in %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func minutes(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}
