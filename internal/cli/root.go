// Package cli wires configuration, credentials and the queue client into the
// busclient command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/busclient/internal/admin"
	"github.com/sungwon/busclient/internal/auth"
	"github.com/sungwon/busclient/internal/config"
	"github.com/sungwon/busclient/internal/httpclient"
	"github.com/sungwon/busclient/internal/lifecycle"
	"github.com/sungwon/busclient/internal/logger"
	"github.com/sungwon/busclient/internal/messages"
	"github.com/sungwon/busclient/internal/producer"
	"github.com/sungwon/busclient/internal/servicebus"
)

// NewRootCommand builds the busclient command. Flags override config.yaml
// and BUSCLIENT_* environment values.
func NewRootCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:          "busclient",
		Short:        "Send demo messages to, or consume them from, a Service Bus queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configDir, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logger.NewFromConfig(logger.Config{
				Level:     cfg.Logging.Level,
				Output:    cfg.Logging.Output,
				FilePath:  cfg.Logging.FilePath,
				MaxSizeMB: cfg.Logging.MaxSizeMB,
				MaxFiles:  cfg.Logging.MaxFiles,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(logger.WithLogger(ctx, log), cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configDir, "config", "config", "directory containing an optional config.yaml")
	flags.String("mode", config.ModeConsumer, "run mode: producer or consumer")
	flags.String("credentials", "", "path to the JSON credentials file")
	flags.String("namespace", "", "Service Bus namespace")
	flags.String("queue", "", "queue name")
	flags.Int("count", 1, "number of messages to send in producer mode")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

// Run executes the configured mode until it finishes or ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	creds, err := auth.LoadCredentials(cfg.Auth.CredentialsFile)
	if err != nil {
		return err
	}

	doer := httpclient.New(cfg.HTTP.Timeout)
	cache := auth.NewTokenCache(creds, doer,
		auth.WithOAuthEndpoint(cfg.Auth.OAuthEndpoint),
		auth.WithResource(cfg.Auth.Resource),
		auth.WithExpiryMargin(cfg.Auth.ExpiryMargin),
		auth.WithLogger(log),
	)
	client := servicebus.NewClient(auth.NewClientCredentials(cache), doer, cfg.ServiceBus.Namespace, cfg.ServiceBus.Queue,
		servicebus.WithEndpoint(cfg.ServiceBus.Endpoint),
		servicebus.WithPeekTimeout(cfg.ServiceBus.PeekTimeout),
		servicebus.WithLogger(log),
	)

	log.Info().
		Str("mode", cfg.Mode).
		Str("namespace", cfg.ServiceBus.Namespace).
		Str("queue", cfg.ServiceBus.Queue).
		Msg("starting busclient")

	switch cfg.Mode {
	case config.ModeProducer:
		return runProducer(ctx, cfg, client, log)
	case config.ModeConsumer:
		return runConsumer(ctx, cfg, client, cache, log)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func runProducer(ctx context.Context, cfg *config.Config, client *servicebus.Client, log zerolog.Logger) error {
	p := producer.New(client, producer.Config{
		ScheduleDelay: cfg.Producer.ScheduleDelay,
		Rate:          cfg.Producer.Rate,
	}, log)

	_, err := p.Run(ctx, cfg.Producer.Count, func() any { return messages.NewRandomLogInfo() })
	return err
}

func runConsumer(ctx context.Context, cfg *config.Config, client *servicebus.Client, cache *auth.TokenCache, log zerolog.Logger) error {
	handler := lifecycle.PacedHandler[messages.LogInfo]{
		Delay: cfg.Consumer.ProcessDelay,
		Steps: cfg.Consumer.ProcessSteps,
	}
	mgr := lifecycle.NewManager[messages.LogInfo](client, handler,
		lifecycle.WithLockRenewal(cfg.Consumer.LockRenewal),
		lifecycle.WithLogger(log),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminDone := make(chan struct{})
	if cfg.Admin.Addr != "" {
		go func() {
			defer close(adminDone)
			if err := admin.Serve(ctx, cfg.Admin.Addr, admin.NewRouter(log)); err != nil {
				log.Error().Err(err).Msg("admin server failed")
			}
		}()
	} else {
		close(adminDone)
	}

	sup := &lifecycle.Supervisor{
		Iterate: func(ctx context.Context) error {
			log.Debug().Msg("waiting for new message")
			_, err := mgr.RunOnce(ctx)
			return err
		},
		OnError: func(err error) {
			var qe *servicebus.Error
			if errors.As(err, &qe) && qe.Status == http.StatusUnauthorized {
				cache.Invalidate()
			}
			log.Error().Err(err).Msg("consumer iteration failed")
		},
		MaxIterations: cfg.Consumer.MaxIterations,
		Pause:         cfg.Consumer.Pause,
	}

	err := sup.Run(ctx)
	cancel()
	<-adminDone

	if errors.Is(err, context.Canceled) {
		log.Info().Msg("consumer stopped")
		return nil
	}
	return err
}
