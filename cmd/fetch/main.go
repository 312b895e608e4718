package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"marketquotes/internal/api"
	"marketquotes/internal/app"
	"marketquotes/internal/config"
)

func main() {
	var endpoint string
	var symbols string
	var currency string
	var indices string
	var chartSymbols string
	var candles bool
	var rangeDays string
	var timeout int
	var configPath string

	env := envDefaults()
	flag.StringVar(&endpoint, "endpoint", env.GetString("endpoint"), "commodity or market")
	flag.StringVar(&symbols, "symbols", env.GetString("symbols"), "comma-separated symbols (commodities, or stocks for market)")
	flag.StringVar(&currency, "currency", env.GetString("currency"), "commodity currency: inr or usd")
	flag.StringVar(&indices, "indices", env.GetString("indices"), "comma-separated index symbols")
	flag.BoolVar(&candles, "candles", false, "include candle history (market)")
	flag.StringVar(&chartSymbols, "chart-symbols", "", "comma-separated chart symbols (market)")
	flag.StringVar(&rangeDays, "range", "", "candle history in days")
	flag.IntVar(&timeout, "timeout", env.GetInt("request_timeout_sec"), "request timeout seconds")
	flag.StringVar(&configPath, "config", env.GetString("config_file"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// stdout carries the payload, so logs go to stderr
	lcfg := zap.NewDevelopmentConfig()
	if err := lcfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		log.Fatalf("log level: %v", err)
	}
	lg, err := lcfg.Build()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	svcs := app.Build(cfg, lg)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}

	var out any
	switch endpoint {
	case "commodity":
		set("symbols", symbols)
		set("currency", currency)
		res, err := svcs.Commodity.Resolve(ctx, api.CommodityRequest(q))
		if err != nil {
			log.Fatalf("commodity: %v", err)
		}
		out = api.NewCommodityPayload(res)
	case "market":
		set("symbols", symbols)
		set("indices", indices)
		set("chartSymbols", chartSymbols)
		set("range", rangeDays)
		set("candles", strconv.FormatBool(candles))
		res, err := svcs.Market.Resolve(ctx, api.MarketRequest(q))
		if err != nil {
			log.Fatalf("market: %v", err)
		}
		out = api.NewMarketPayload(res)
	default:
		log.Fatalf("unknown endpoint %q", endpoint)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

// envDefaults backs the flag defaults with ENDPOINT, SYMBOLS, CURRENCY,
// INDICES, REQUEST_TIMEOUT_SEC and CONFIG_FILE.
func envDefaults() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("endpoint", "commodity")
	v.SetDefault("symbols", "")
	v.SetDefault("currency", "inr")
	v.SetDefault("indices", "")
	v.SetDefault("request_timeout_sec", 30)
	v.SetDefault("config_file", "")
	return v
}
