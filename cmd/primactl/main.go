package main

import (
	"context"

	"prima/internal/cli"
	"prima/internal/config"
	"prima/internal/ledger"
	"prima/internal/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_ = logger.Setup(logger.DefaultConfig())
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logCfg := cfg.GetLoggerConfig()
	// keep stdout for command output
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logger")
	}

	cli.Execute(func(ctx context.Context) (ledger.Reader, error) {
		client, err := ledger.DialConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ledger.NewThrottled(client, cfg.LedgerReadRPS, cfg.LedgerReadBurst, nil), nil
	})
}
