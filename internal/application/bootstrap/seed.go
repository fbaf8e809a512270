package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/pkg/keylist"
)

type seeder interface {
	Seed(ctx context.Context, keys []string) (int, error)
}

type objectLoader interface {
	Load(ctx context.Context, uri string) ([]string, error)
}

// Source says where the bootstrap key list comes from. The first non-empty
// field wins: S3URI, then File, then the built-in list.
type Source struct {
	S3URI  string
	File   string
	Loader objectLoader
}

// Keys resolves the source into a list of key strings.
func (src Source) Keys(ctx context.Context) ([]string, string, error) {
	switch {
	case src.S3URI != "":
		if src.Loader == nil {
			return nil, "", fmt.Errorf("key list %s: no object loader configured: %w", src.S3URI, domain.ErrBadRequest)
		}
		keys, err := src.Loader.Load(ctx, src.S3URI)
		if err != nil {
			return nil, "", err
		}
		return keys, src.S3URI, nil
	case src.File != "":
		keys, err := keylist.LoadFile(src.File)
		if err != nil {
			return nil, "", err
		}
		return keys, src.File, nil
	default:
		return keylist.Default(), "built-in", nil
	}
}

// Seed fills an empty pool from keys. Safe to call on every start: a store
// that already holds key records is left untouched.
func Seed(ctx context.Context, store seeder, keys []string) (int, error) {
	if err := keylist.Validate(keys); err != nil {
		return 0, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	inserted, err := store.Seed(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("seed key pool: %w", err)
	}
	if inserted == 0 {
		slog.Info("key pool already seeded")
	} else {
		slog.Info("key pool seeded", "inserted", inserted)
	}
	return inserted, nil
}
