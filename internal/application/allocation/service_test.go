package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockKeyStore struct{ mock.Mock }

func (m *mockKeyStore) ClaimOne(ctx context.Context) (*domain.Key, error) {
	args := m.Called(ctx)
	if k, _ := args.Get(0).(*domain.Key); k != nil {
		return k, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockKeyStore) Release(ctx context.Context, value string) error {
	return m.Called(ctx, value).Error(0)
}
func (m *mockKeyStore) Stats(ctx context.Context) (domain.PoolStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.PoolStats), args.Error(1)
}

type mockRegistrantStore struct{ mock.Mock }

func (m *mockRegistrantStore) HasClaimed(ctx context.Context, externalUserID string) (bool, error) {
	args := m.Called(ctx, externalUserID)
	return args.Bool(0), args.Error(1)
}
func (m *mockRegistrantStore) Create(ctx context.Context, r *domain.Registrant) error {
	return m.Called(ctx, r).Error(0)
}

type mockReceipts struct{ mock.Mock }

func (m *mockReceipts) SendReceipt(ctx context.Context, r *domain.Registrant) error {
	return m.Called(ctx, r).Error(0)
}

type mockAlerts struct{ mock.Mock }

func (m *mockAlerts) PoolExhausted(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- helpers ---

func baseReq() domain.RegisterRequest {
	return domain.RegisterRequest{
		ExternalUserID: "U1",
		FirstName:      "Jo",
		LastName:       "Do",
		Email:          "jo@x.co",
	}
}

func newMemoryService(t *testing.T, keys ...string) (Service, *memory.KeyRepo) {
	t.Helper()
	kr := memory.NewKeyRepo()
	_, err := kr.Seed(context.Background(), keys)
	require.NoError(t, err)
	return NewService(ServiceDeps{KeyRepo: kr, RegistrantRepo: memory.NewRegistrantRepo()}), kr
}

// --- Allocate with mocks ---

func TestAllocate_InvalidEmailShape(t *testing.T) {
	svc := NewService(ServiceDeps{KeyRepo: &mockKeyStore{}, RegistrantRepo: &mockRegistrantStore{}})
	req := baseReq()
	req.Email = "not-an-email"

	_, err := svc.Allocate(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrInvalidEmailShape)
}

func TestAllocate_MissingIdentity(t *testing.T) {
	svc := NewService(ServiceDeps{KeyRepo: &mockKeyStore{}, RegistrantRepo: &mockRegistrantStore{}})
	req := baseReq()
	req.ExternalUserID = ""

	_, err := svc.Allocate(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestAllocate_AlreadyClaimed(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(true, nil)

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs})
	_, err := svc.Allocate(context.Background(), baseReq())

	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	ks.AssertNotCalled(t, "ClaimOne", mock.Anything)
}

func TestAllocate_HasClaimedStorageFailure(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, fmt.Errorf("get: %w", domain.ErrPersistenceUnavailable))

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs})
	_, err := svc.Allocate(context.Background(), baseReq())

	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	ks.AssertNotCalled(t, "ClaimOne", mock.Anything)
}

func TestAllocate_HappyPath(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rc := &mockReceipts{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{ID: "k1", Value: "A1", Claimed: true}, nil)
	rs.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.Registrant) bool {
		return r.ExternalUserID == "U1" && r.AssignedKey == "A1" && r.RegistrantID != ""
	})).Return(nil)
	rc.On("SendReceipt", mock.Anything, mock.AnythingOfType("*domain.Registrant")).Return(nil)

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs, Receipts: rc})
	reg, err := svc.Allocate(context.Background(), baseReq())
	svc.Wait()

	require.NoError(t, err)
	assert.Equal(t, "A1", reg.AssignedKey)
	assert.Equal(t, "Jo", reg.FirstName)
	assert.Equal(t, "Do", reg.LastName)
	assert.Equal(t, "jo@x.co", reg.Email)
	assert.False(t, reg.CreatedAt.IsZero())
	ks.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	ks.AssertExpectations(t)
	rs.AssertExpectations(t)
	rc.AssertExpectations(t)
}

func TestAllocate_ReceiptFailureDoesNotFailAllocation(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rc := &mockReceipts{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{Value: "A1"}, nil)
	rs.On("Create", mock.Anything, mock.Anything).Return(nil)
	rc.On("SendReceipt", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs, Receipts: rc})
	reg, err := svc.Allocate(context.Background(), baseReq())
	svc.Wait()

	require.NoError(t, err)
	assert.Equal(t, "A1", reg.AssignedKey)
	rc.AssertExpectations(t)
}

func TestAllocate_SlowReceiptDoesNotDelayReply(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rc := &mockReceipts{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{Value: "A1"}, nil)
	rs.On("Create", mock.Anything, mock.Anything).Return(nil)
	relay := make(chan struct{})
	var sendErr error
	rc.On("SendReceipt", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-relay
		sendErr = args.Get(0).(context.Context).Err()
	}).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs, Receipts: rc})
	began := time.Now()
	reg, err := svc.Allocate(ctx, baseReq())

	require.NoError(t, err)
	assert.Equal(t, "A1", reg.AssignedKey)
	assert.Less(t, time.Since(began), 100*time.Millisecond)

	// The receipt outlives the caller's deadline.
	<-ctx.Done()
	close(relay)
	svc.Wait()
	assert.NoError(t, sendErr)
	rc.AssertExpectations(t)
}

func TestAllocate_PoolExhaustedAlertsOnce(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	al := &mockAlerts{}
	rs.On("HasClaimed", mock.Anything, mock.Anything).Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(nil, domain.ErrPoolExhausted)
	al.On("PoolExhausted", mock.Anything).Return(nil).Once()

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs, Alerts: al})
	for i := 0; i < 3; i++ {
		_, err := svc.Allocate(context.Background(), baseReq())
		assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	}

	rs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	al.AssertNumberOfCalls(t, "PoolExhausted", 1)
}

func TestAllocate_FailedAlertIsRetriedNextTime(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	al := &mockAlerts{}
	rs.On("HasClaimed", mock.Anything, mock.Anything).Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(nil, domain.ErrPoolExhausted)
	al.On("PoolExhausted", mock.Anything).Return(errors.New("sns down")).Once()
	al.On("PoolExhausted", mock.Anything).Return(nil).Once()

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs, Alerts: al})
	for i := 0; i < 3; i++ {
		_, _ = svc.Allocate(context.Background(), baseReq())
	}

	al.AssertNumberOfCalls(t, "PoolExhausted", 2)
}

func TestAllocate_DuplicateRegistrantReleasesKey(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{Value: "A1", Claimed: true}, nil)
	rs.On("Create", mock.Anything, mock.Anything).
		Return(fmt.Errorf("registrant U1: %w", domain.ErrDuplicateRegistrant))
	ks.On("Release", mock.Anything, "A1").Return(nil).Once()

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs})
	_, err := svc.Allocate(context.Background(), baseReq())

	assert.ErrorIs(t, err, domain.ErrDuplicateRegistrant)
	ks.AssertExpectations(t)
}

func TestAllocate_CreateStorageFailureReleasesKey(t *testing.T) {
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{Value: "A1"}, nil)
	rs.On("Create", mock.Anything, mock.Anything).
		Return(fmt.Errorf("put: %w", domain.ErrPersistenceUnavailable))
	ks.On("Release", mock.Anything, "A1").Return(errors.New("still down")).Once()

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs})
	_, err := svc.Allocate(context.Background(), baseReq())

	// The create error is what the caller sees even if the release also fails.
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	ks.AssertExpectations(t)
}

func TestAllocate_ReleaseRunsAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ks := &mockKeyStore{}
	rs := &mockRegistrantStore{}
	rs.On("HasClaimed", mock.Anything, "U1").Return(false, nil)
	ks.On("ClaimOne", mock.Anything).Return(&domain.Key{Value: "A1"}, nil)
	rs.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)
	ks.On("Release", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "A1").Return(nil).Once()

	svc := NewService(ServiceDeps{KeyRepo: ks, RegistrantRepo: rs})
	_, err := svc.Allocate(ctx, baseReq())

	assert.ErrorIs(t, err, context.Canceled)
	ks.AssertExpectations(t)
}

// --- Allocate against the in-memory stores ---

func TestAllocate_TwoKeyScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t, "A1", "B2")

	req := baseReq()
	first, err := svc.Allocate(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, []string{"A1", "B2"}, first.AssignedKey)

	req.ExternalUserID = "U2"
	second, err := svc.Allocate(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, []string{"A1", "B2"}, second.AssignedKey)
	assert.NotEqual(t, first.AssignedKey, second.AssignedKey)

	req.ExternalUserID = "U3"
	_, err = svc.Allocate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)

	req.ExternalUserID = "U1"
	_, err = svc.Allocate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestAllocate_ExhaustionLeavesPoolUnchanged(t *testing.T) {
	ctx := context.Background()
	keys := []string{"A1", "B2", "C3", "D4"}
	svc, kr := newMemoryService(t, keys...)

	for i := range keys {
		req := baseReq()
		req.ExternalUserID = fmt.Sprintf("U%d", i)
		_, err := svc.Allocate(ctx, req)
		require.NoError(t, err)
	}
	before := kr.Snapshot()

	req := baseReq()
	req.ExternalUserID = "late"
	_, err := svc.Allocate(ctx, req)

	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Equal(t, before, kr.Snapshot())
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStats{Total: 4, Claimed: 4, Available: 0}, st)
}

func TestAllocate_ConcurrentRaceForLastKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t, "ONLY")

	const k = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		exhausted int
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := baseReq()
			req.ExternalUserID = fmt.Sprintf("U%d", i)
			reg, err := svc.Allocate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, reg.AssignedKey)
				return
			}
			if errors.Is(err, domain.ErrPoolExhausted) {
				exhausted++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"ONLY"}, winners)
	assert.Equal(t, k-1, exhausted)
}

func TestAllocate_ConcurrentSameIdentityNeverStrandsAKey(t *testing.T) {
	ctx := context.Background()
	keys := []string{"A1", "B2", "C3", "D4", "E5", "F6", "G7", "H8"}
	svc, kr := newMemoryService(t, keys...)

	var wg sync.WaitGroup
	for i := 0; i < len(keys); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Allocate(ctx, baseReq())
		}()
	}
	wg.Wait()

	claimed := 0
	for _, k := range kr.Snapshot() {
		if k.Claimed {
			claimed++
		}
	}
	// Exactly one registrant exists for U1, so exactly one key may be claimed.
	assert.Equal(t, 1, claimed)
}
