package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/airdrop-bot/internal/application/allocation"
	"github.com/airdrop-bot/internal/application/bootstrap"
	"github.com/airdrop-bot/internal/application/dialogue"
	"github.com/airdrop-bot/internal/config"
	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/infrastructure/dynamo"
	"github.com/airdrop-bot/internal/infrastructure/memory"
	s3infra "github.com/airdrop-bot/internal/infrastructure/s3"
	"github.com/airdrop-bot/internal/infrastructure/smtp"
	"github.com/airdrop-bot/internal/infrastructure/sns"
	"github.com/airdrop-bot/internal/infrastructure/sqlite"
	transporthttp "github.com/airdrop-bot/internal/transport/http"
	"github.com/airdrop-bot/internal/transport/telegram"
)

const (
	transportTelegram = "telegram"
	transportHTTP     = "http"
	transportAll      = "all"
)

type keyStore interface {
	Seed(ctx context.Context, keys []string) (int, error)
	ClaimOne(ctx context.Context) (*domain.Key, error)
	Release(ctx context.Context, value string) error
	Stats(ctx context.Context) (domain.PoolStats, error)
}

type registrantStore interface {
	HasClaimed(ctx context.Context, externalUserID string) (bool, error)
	Create(ctx context.Context, r *domain.Registrant) error
}

type stores struct {
	keys        keyStore
	registrants registrantStore
	close       func() error
}

func main() {
	if err := run(); err != nil {
		slog.Error("airdrop bot stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("airdrop-bot", pflag.ContinueOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading the environment")
	transport := flagSet.String("transport", transportTelegram, "chat transport to run: telegram, http or all")
	seedOnly := flagSet.Bool("seed-only", false, "seed the key pool and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	switch *transport {
	case transportTelegram, transportHTTP, transportAll:
	default:
		return fmt.Errorf("unknown transport %q", *transport)
	}

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("no env file found, reading from environment", "path", *envFile)
	}
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Warn("close store", "err", err)
		}
	}()

	if err := seed(ctx, cfg, st.keys); err != nil {
		return err
	}
	if *seedOnly {
		return nil
	}

	deps := allocation.ServiceDeps{KeyRepo: st.keys, RegistrantRepo: st.registrants}
	if cfg.SMTPHost != "" {
		deps.Receipts = smtp.NewReceiptMailer(smtp.NewMailer(cfg))
	}
	if cfg.SNSTopicARN != "" {
		if alerter, err := sns.NewPoolAlerter(ctx, cfg); err == nil {
			deps.Alerts = alerter
		} else {
			slog.Warn("pool alerts not available", "err", err)
		}
	}
	svc := allocation.NewService(deps)
	ctrl := dialogue.NewController(svc)

	g, gctx := errgroup.WithContext(ctx)
	if *transport == transportTelegram || *transport == transportAll {
		if cfg.BotToken == "" {
			return errors.New("BOT_TOKEN is required for the telegram transport")
		}
		api, err := telegram.NewAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("connect to telegram: %w", err)
		}
		bot := telegram.New(api, ctrl, cfg.TelegramWorkers, cfg.TelegramPollTimeout)
		g.Go(func() error { return bot.Run(gctx) })
	}
	if *transport == transportHTTP || *transport == transportAll {
		g.Go(func() error {
			return transporthttp.Serve(gctx, cfg, &transporthttp.Deps{Dialogue: ctrl, Pool: svc})
		})
	}
	err = g.Wait()
	svc.Wait()
	return err
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite store", "path", cfg.SQLitePath)
		return &stores{keys: s, registrants: s, close: s.Close}, nil
	case config.StoreDynamo:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := dynamo.CreateTables(ctx, client, cfg.DynamoTables); err != nil {
			return nil, err
		}
		slog.Info("using dynamodb store", "keys_table", cfg.DynamoTables.Keys, "registrants_table", cfg.DynamoTables.Registrants)
		return &stores{
			keys:        dynamo.NewKeyRepo(client, cfg.DynamoTables.Keys),
			registrants: dynamo.NewRegistrantRepo(client, cfg.DynamoTables.Registrants),
			close:       func() error { return nil },
		}, nil
	case config.StoreMemory:
		slog.Warn("using in-memory store; claims are lost on exit")
		return &stores{
			keys:        memory.NewKeyRepo(),
			registrants: memory.NewRegistrantRepo(),
			close:       func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func seed(ctx context.Context, cfg *config.Config, keys keyStore) error {
	src := bootstrap.Source{S3URI: cfg.KeysS3URI, File: cfg.KeysFile}
	if cfg.KeysS3URI != "" {
		client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			return err
		}
		src.Loader = s3infra.NewKeyListLoader(client)
	}
	list, from, err := src.Keys(ctx)
	if err != nil {
		return fmt.Errorf("load key list: %w", err)
	}
	slog.Info("key list loaded", "source", from, "count", len(list))
	_, err = bootstrap.Seed(ctx, keys, list)
	return err
}

func logLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
