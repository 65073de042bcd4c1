package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"pricerefresh/internal/config"
	"pricerefresh/internal/fx"
	"pricerefresh/internal/holding"
	"pricerefresh/internal/httpx"
	"pricerefresh/internal/normalize"
	"pricerefresh/internal/resolver"
	"pricerefresh/internal/source"
	"pricerefresh/internal/source/coingecko"
	"pricerefresh/internal/source/hl"
	"pricerefresh/internal/source/stooq"
	"pricerefresh/internal/source/yahoo"
	"pricerefresh/internal/symbols"
)

// One-shot resolution for manual checks: resolve the given holdings once and
// print the normalized quotes as JSON.
func main() {
	var symbolsCSV string
	var class string
	var market string
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", ""), "comma-separated holding symbols")
	flag.StringVar(&class, "class", getenv("CLASS", "equity"), "asset class: equity, fund or crypto")
	flag.StringVar(&market, "market", getenv("MARKET", ""), "market hint: UK or US")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	if strings.TrimSpace(symbolsCSV) == "" {
		log.Fatal("no symbols given (use -symbols)")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	sources := map[string]source.Source{}
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

	rates := fx.New(fx.Config{
		Endpoint: cfg.FX.Endpoint,
		TTL:      time.Duration(cfg.FX.TTLMinutes) * time.Minute,
	}, hc.HTTP)
	res := resolver.New(
		symbols.NewMapper(cfg.HL.KnownFunds, cfg.ReportingCurrency),
		sources,
		normalize.New(cfg.ReportingCurrency, rates),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var quotes []normalize.Quote
	for _, sym := range splitCSV(symbolsCSV) {
		h := holding.Holding{Symbol: sym, Class: holding.Class(class), Market: holding.Market(strings.ToUpper(market))}
		q, err := res.Resolve(ctx, h)
		if err != nil {
			log.Printf("resolve %s: %v", sym, err)
			continue
		}
		quotes = append(quotes, q)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(quotes); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if len(quotes) == 0 {
		fmt.Fprintln(os.Stderr, "no quotes resolved")
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
