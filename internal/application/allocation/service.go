package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/pkg/id"
	"github.com/airdrop-bot/internal/pkg/validate"
)

const receiptTimeout = 30 * time.Second

type Service interface {
	// Allocate binds one unclaimed key to a first-time registrant.
	Allocate(ctx context.Context, req domain.RegisterRequest) (*domain.Registrant, error)
	HasClaimed(ctx context.Context, externalUserID string) (bool, error)
	Stats(ctx context.Context) (domain.PoolStats, error)
	// Wait blocks until receipts still in flight have been sent or timed out.
	Wait()
}

type keyStore interface {
	ClaimOne(ctx context.Context) (*domain.Key, error)
	Release(ctx context.Context, value string) error
	Stats(ctx context.Context) (domain.PoolStats, error)
}

type registrantStore interface {
	HasClaimed(ctx context.Context, externalUserID string) (bool, error)
	Create(ctx context.Context, r *domain.Registrant) error
}

type receiptSender interface {
	SendReceipt(ctx context.Context, r *domain.Registrant) error
}

type poolAlerter interface {
	PoolExhausted(ctx context.Context) error
}

type service struct {
	keys        keyStore
	registrants registrantStore
	receipts    receiptSender
	alerts      poolAlerter
	alerted     atomic.Bool
	now         func() time.Time
	// pending tracks receipts still being sent in the background.
	pending sync.WaitGroup
}

// ServiceDeps wires the allocator. Receipts and Alerts are optional.
type ServiceDeps struct {
	KeyRepo        keyStore
	RegistrantRepo registrantStore
	Receipts       receiptSender
	Alerts         poolAlerter
}

func NewService(deps ServiceDeps) Service {
	return &service{
		keys:        deps.KeyRepo,
		registrants: deps.RegistrantRepo,
		receipts:    deps.Receipts,
		alerts:      deps.Alerts,
		now:         time.Now,
	}
}

func (s *service) Allocate(ctx context.Context, req domain.RegisterRequest) (*domain.Registrant, error) {
	if !validate.EmailShape(req.Email) {
		return nil, domain.ErrInvalidEmailShape
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}

	claimed, err := s.registrants.HasClaimed(ctx, req.ExternalUserID)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, domain.ErrAlreadyClaimed
	}

	key, err := s.keys.ClaimOne(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrPoolExhausted) {
			s.alertExhausted(ctx)
		}
		return nil, err
	}

	reg := &domain.Registrant{
		RegistrantID:   id.New(),
		ExternalUserID: req.ExternalUserID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		AssignedKey:    key.Value,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.registrants.Create(ctx, reg); err != nil {
		s.release(ctx, key.Value, req.ExternalUserID, err)
		return nil, err
	}

	slog.Info("key allocated", "external_user_id", reg.ExternalUserID, "registrant_id", reg.RegistrantID, "key_id", key.ID)
	s.sendReceipt(ctx, *reg)
	return reg, nil
}

// release undoes a claim whose registrant insert failed, so no key stays
// claimed without a registrant.
func (s *service) release(ctx context.Context, value, externalUserID string, cause error) {
	// The caller's context may already be cancelled; the release must still run.
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.keys.Release(relCtx, value); err != nil {
		slog.Error("could not release key after failed registrant insert; key is stranded",
			"key", value, "external_user_id", externalUserID, "cause", cause, "err", err)
		return
	}
	slog.Warn("released key after failed registrant insert",
		"external_user_id", externalUserID, "cause", cause)
}

// sendReceipt mails the receipt in the background so a slow relay never
// delays the reply. It works on a copy of the registrant.
func (s *service) sendReceipt(ctx context.Context, reg domain.Registrant) {
	if s.receipts == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
		defer cancel()
		if err := s.receipts.SendReceipt(sendCtx, &reg); err != nil {
			slog.Warn("could not send receipt email", "external_user_id", reg.ExternalUserID, "err", err)
		}
	}()
}

// alertExhausted publishes at most one alert per process.
func (s *service) alertExhausted(ctx context.Context) {
	if s.alerts == nil || !s.alerted.CompareAndSwap(false, true) {
		return
	}
	if err := s.alerts.PoolExhausted(ctx); err != nil {
		slog.Warn("could not publish pool exhausted alert", "err", err)
		s.alerted.Store(false)
	}
}

func (s *service) HasClaimed(ctx context.Context, externalUserID string) (bool, error) {
	return s.registrants.HasClaimed(ctx, externalUserID)
}

func (s *service) Stats(ctx context.Context) (domain.PoolStats, error) {
	return s.keys.Stats(ctx)
}

func (s *service) Wait() { s.pending.Wait() }
