// Package telegram feeds Telegram long-polling updates into the dialogue
// controller and sends its replies back to the chat.
package telegram

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/airdrop-bot/internal/application/dialogue"
)

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type turnHandler interface {
	Handle(ctx context.Context, t dialogue.Turn) dialogue.Reply
}

type job struct {
	chatID int64
	turn   dialogue.Turn
}

// Bot shards updates over a fixed set of workers by sender, so one user's
// turns are handled in arrival order while different users run in parallel.
type Bot struct {
	api         botAPI
	handler     turnHandler
	workers     int
	pollTimeout int
}

// NewAPI connects to the Bot API with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

func New(api botAPI, handler turnHandler, workers, pollTimeout int) *Bot {
	if workers < 1 {
		workers = 1
	}
	return &Bot{api: api, handler: handler, workers: workers, pollTimeout: pollTimeout}
}

// Run polls until ctx is done, then drains queued turns and returns.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(cfg)

	queues := make([]chan job, b.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan job, 16)
		wg.Add(1)
		go func(q <-chan job) {
			defer wg.Done()
			b.work(ctx, q)
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	slog.Info("telegram transport polling", "workers", b.workers)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("telegram transport stopping")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			j, ok := toJob(u)
			if !ok {
				continue
			}
			select {
			case queues[shard(j.turn.Identity, b.workers)] <- j:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return nil
			}
		}
	}
}

func (b *Bot) work(ctx context.Context, q <-chan job) {
	// Turns already queued are finished even after shutdown starts.
	ctx = context.WithoutCancel(ctx)
	for j := range q {
		reply := b.handler.Handle(ctx, j.turn)
		if _, err := b.api.Send(tgbotapi.NewMessage(j.chatID, reply.Text)); err != nil {
			slog.Warn("send telegram reply failed", "chat_id", j.chatID, "identity", j.turn.Identity, "err", err)
		}
	}
}

// Identity is the dialogue identity of a Telegram user. The prefix keeps it
// apart from identities other transports hand to the same controller.
func Identity(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

// toJob maps an update onto a dialogue turn. Non-message updates, messages
// without text or sender, and commands other than /start and /cancel are
// dropped.
func toJob(u tgbotapi.Update) (job, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return job{}, false
	}
	t := dialogue.Turn{Identity: Identity(m.From.ID), Text: m.Text}
	if m.IsCommand() {
		switch m.Command() {
		case "start":
			t.Kind = dialogue.KindStart
		case "cancel":
			t.Kind = dialogue.KindCancel
		default:
			return job{}, false
		}
	} else {
		t.Kind = dialogue.KindText
	}
	return job{chatID: m.Chat.ID, turn: t}, true
}

func shard(identity string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return int(h.Sum32() % uint32(n))
}
