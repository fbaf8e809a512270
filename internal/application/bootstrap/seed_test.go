package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/infrastructure/memory"
	"github.com/airdrop-bot/internal/infrastructure/sqlite"
	"github.com/airdrop-bot/internal/pkg/keylist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSeeder struct{ mock.Mock }

func (m *mockSeeder) Seed(ctx context.Context, keys []string) (int, error) {
	args := m.Called(ctx, keys)
	return args.Int(0), args.Error(1)
}

type mockLoader struct{ mock.Mock }

func (m *mockLoader) Load(ctx context.Context, uri string) ([]string, error) {
	args := m.Called(ctx, uri)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func TestSeed_TwiceYieldsPoolSizeRecords(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewKeyRepo()
	keys := keylist.Default()

	n, err := Seed(ctx, repo, keys)
	require.NoError(t, err)
	assert.Equal(t, len(keys), n)

	n, err = Seed(ctx, repo, keys)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(keys), st.Total)
	assert.Equal(t, len(keys), st.Available)
}

func TestSeed_SQLiteIdempotentAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pool.db")
	keys := []string{"A1", "B2", "C3"}

	first, err := sqlite.Open(path)
	require.NoError(t, err)
	_, err = Seed(ctx, first, keys)
	require.NoError(t, err)
	_, err = first.ClaimOne(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path)
	require.NoError(t, err)
	defer second.Close()
	n, err := Seed(ctx, second, keys)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := second.Stats(ctx)
	require.NoError(t, err)
	// The claim made before the restart must survive the second seed.
	assert.Equal(t, domain.PoolStats{Total: 3, Claimed: 1, Available: 2}, st)
}

func TestSeed_RejectsInvalidListWithoutTouchingStore(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{"empty", nil},
		{"blank entry", []string{"A1", "  "}},
		{"duplicate", []string{"A1", "B2", "A1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSeeder{}

			_, err := Seed(context.Background(), s, tt.keys)

			assert.ErrorIs(t, err, domain.ErrBadRequest)
			s.AssertNotCalled(t, "Seed", mock.Anything, mock.Anything)
		})
	}
}

func TestSeed_WrapsStoreError(t *testing.T) {
	s := &mockSeeder{}
	s.On("Seed", mock.Anything, []string{"A1"}).Return(0, domain.ErrPersistenceUnavailable)

	_, err := Seed(context.Background(), s, []string{"A1"})

	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.ErrorContains(t, err, "seed key pool")
}

func TestSourceKeys_DefaultsToBuiltIn(t *testing.T) {
	keys, from, err := Source{}.Keys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "built-in", from)
	assert.Equal(t, keylist.Default(), keys)
}

func TestSourceKeys_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pool\nA1\n\nB2\n"), 0o600))

	keys, from, err := Source{File: path}.Keys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, path, from)
	assert.Equal(t, []string{"A1", "B2"}, keys)
}

func TestSourceKeys_S3WinsOverFile(t *testing.T) {
	l := &mockLoader{}
	l.On("Load", mock.Anything, "s3://bucket/keys.yaml").Return([]string{"S1", "S2"}, nil)

	keys, from, err := Source{S3URI: "s3://bucket/keys.yaml", File: "ignored.txt", Loader: l}.Keys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/keys.yaml", from)
	assert.Equal(t, []string{"S1", "S2"}, keys)
	l.AssertExpectations(t)
}

func TestSourceKeys_S3Errors(t *testing.T) {
	_, _, err := Source{S3URI: "s3://bucket/keys.txt"}.Keys(context.Background())
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	l := &mockLoader{}
	l.On("Load", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))
	_, _, err = Source{S3URI: "s3://bucket/keys.txt", Loader: l}.Keys(context.Background())
	assert.ErrorContains(t, err, "access denied")
}

func TestSourceKeys_MissingFile(t *testing.T) {
	_, _, err := Source{File: filepath.Join(t.TempDir(), "nope.txt")}.Keys(context.Background())

	assert.ErrorIs(t, err, os.ErrNotExist)
}
