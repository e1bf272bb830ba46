// Package config provides loading and environment overlay for eventagg
// server configuration. It exposes a Default() baseline plus JSON file
// loading and EVENTAGG_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/eventagg.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if cfg.DataDir == "" {
//	    cfg.DataDir = config.DefaultDataDir()
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
