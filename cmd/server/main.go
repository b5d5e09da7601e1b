package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/raywall/gifted-service/pkg/config"
	"github.com/raywall/gifted-service/pkg/logger"
	"github.com/raywall/gifted-service/pkg/transport"
	"github.com/rs/zerolog/log"
)

var (
	configPath string
	// starters are swapped in tests
	serverStarter = func(ctx context.Context, srv *transport.Server) error { return srv.Run(ctx) }
	lambdaStarter = lambda.Start
)

func init() {
	configPath = os.Getenv(config.EnvConfigPath)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath); err != nil {
		log.Fatal().Err(err).Msg("service stopped")
	}
}

// run loads the configuration, builds every client once and hands the
// handlers to the selected runtime.
func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(ctx, cfgPath, nil)
	if err != nil {
		return err
	}

	log.Logger = logger.Configure(cfg.Logging, cfg.Service.Name)
	ctx = log.Logger.WithContext(ctx)

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := a.metrics.(io.Closer); ok {
		defer closer.Close()
	}

	log.Info().
		Str("runtime", cfg.Service.Runtime).
		Str("driver", cfg.Tables.Driver).
		Msg("service starting")

	switch cfg.Service.Runtime {
	case config.RuntimeLocal:
		srv := transport.NewServer(cfg.Service.Port, a.router, cfg.Service.Timeout)
		return serverStarter(ctx, srv)
	case config.RuntimeLambda:
		lambdaStarter(transport.NewLambdaHandler(a.router).Handle)
		return nil
	case config.RuntimeFeedback:
		lambdaStarter(transport.NewFeedbackHandler(a.newsletter).Handle)
		return nil
	default:
		return fmt.Errorf("unknown runtime %q", cfg.Service.Runtime)
	}
}
