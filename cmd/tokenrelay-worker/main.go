//go:build js && wasm

package main

import (
	"github.com/dvcrn/tokenrelay/internal/app"
	"github.com/dvcrn/tokenrelay/internal/config"
	"github.com/dvcrn/tokenrelay/internal/credentials"
	"github.com/dvcrn/tokenrelay/internal/logger"
	"github.com/syumai/workers"
	"github.com/syumai/workers/cloudflare"
)

// kvBinding is the KV namespace name bound in wrangler.toml.
const kvBinding = "TOKENRELAY_KV"

func main() {
	cfg, err := config.ParseLookup(cloudflare.Getenv)
	if err != nil {
		log := logger.New("production", "")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	log.Info().Msg("📦 Using Cloudflare KV credential store")
	store, err := credentials.NewKVStore(kvBinding)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Cloudflare KV store")
	}

	a := app.New(cfg, store, log)

	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(a.Server)
}
