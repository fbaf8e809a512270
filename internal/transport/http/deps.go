package http

import (
	"context"

	"github.com/airdrop-bot/internal/application/dialogue"
	"github.com/airdrop-bot/internal/domain"
)

// DialogueController is what the router needs from the registration dialogue.
type DialogueController interface {
	Handle(ctx context.Context, t dialogue.Turn) dialogue.Reply
}

// PoolStatsReader is what the router needs to report on the key pool.
type PoolStatsReader interface {
	Stats(ctx context.Context) (domain.PoolStats, error)
}

// Deps holds the application services the router exposes.
type Deps struct {
	Dialogue DialogueController
	Pool     PoolStatsReader
}
