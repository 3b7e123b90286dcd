package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory FingerprintStore. The optional beforeSwap hook
// runs outside the lock so tests can force two callers to interleave between
// token verification and the compare-and-swap.
type memStore struct {
	mu           sync.Mutex
	fingerprints map[uint64]string
	beforeSwap   func()
}

func newMemStore() *memStore {
	return &memStore{fingerprints: make(map[uint64]string)}
}

func (s *memStore) ReplaceRefreshFingerprint(_ context.Context, id uint64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[id] = hash
	return nil
}

func (s *memStore) ConsumeRefreshFingerprint(_ context.Context, id uint64, hash string) (bool, error) {
	if s.beforeSwap != nil {
		s.beforeSwap()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fingerprints[id] != hash {
		return false, nil
	}
	delete(s.fingerprints, id)
	return true, nil
}

func (s *memStore) ClearRefreshFingerprint(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fingerprints, id)
	return nil
}

func newTestAuthority(t *testing.T, store FingerprintStore) *Authority {
	t.Helper()
	a, err := New(Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, store)
	require.NoError(t, err)
	return a
}

func TestNew_MissingSecretIsFatal(t *testing.T) {
	t.Parallel()

	_, err := New(Config{RefreshSecret: "x"}, newMemStore())
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = New(Config{AccessSecret: "x"}, newMemStore())
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, newMemStore())
	token, exp, err := a.IssueAccess(42, "a@x.com", "fleet_manager")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 2*time.Second)

	claims, err := a.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.AccountID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "fleet_manager", claims.Role)
}

func TestVerifyAccess_Failures(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, newMemStore())

	t.Run("malformed", func(t *testing.T) {
		_, err := a.VerifyAccess("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("bad signature", func(t *testing.T) {
		other, err := New(Config{
			AccessSecret:  "different-secret",
			RefreshSecret: "r",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
		}, newMemStore())
		require.NoError(t, err)
		token, _, err := other.IssueAccess(1, "a@x.com", "user")
		require.NoError(t, err)

		_, err = a.VerifyAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		short, err := New(Config{
			AccessSecret:  "test-access-secret",
			RefreshSecret: "test-refresh-secret",
			AccessTTL:     -time.Minute,
			RefreshTTL:    time.Hour,
		}, newMemStore())
		require.NoError(t, err)
		token, _, err := short.IssueAccess(1, "a@x.com", "user")
		require.NoError(t, err)

		_, err = a.VerifyAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		refresh, _, err := a.IssueRefresh(context.Background(), 7)
		require.NoError(t, err)

		_, err = a.VerifyAccess(refresh)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRefreshToken_ConsumedExactlyOnce(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, newMemStore())
	ctx := context.Background()

	token, exp, err := a.IssueRefresh(ctx, 42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), exp, 2*time.Second)

	id, err := a.VerifyAndConsumeRefresh(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	// The fingerprint is gone; a replay must fail.
	_, err = a.VerifyAndConsumeRefresh(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshToken_RotationInvalidatesPrevious(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, newMemStore())
	ctx := context.Background()

	t1, _, err := a.IssueRefresh(ctx, 9)
	require.NoError(t, err)
	t2, _, err := a.IssueRefresh(ctx, 9)
	require.NoError(t, err)

	_, err = a.VerifyAndConsumeRefresh(ctx, t1)
	assert.ErrorIs(t, err, ErrInvalidToken)

	id, err := a.VerifyAndConsumeRefresh(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), id)
}

func TestRefreshToken_DistinctWithinSameSecond(t *testing.T) {
	t.Parallel()

	// Freeze the clock so both tokens carry identical iat/exp. Rotation has
	// to invalidate the first one anyway, which only works if the signed
	// strings themselves differ.
	a := newTestAuthority(t, newMemStore())
	frozen := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return frozen }
	ctx := context.Background()

	t1, _, err := a.IssueRefresh(ctx, 9)
	require.NoError(t, err)
	t2, _, err := a.IssueRefresh(ctx, 9)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)
	assert.NotEqual(t, Fingerprint(t1), Fingerprint(t2))

	_, err = a.VerifyAndConsumeRefresh(ctx, t1)
	assert.ErrorIs(t, err, ErrInvalidToken)

	id, err := a.VerifyAndConsumeRefresh(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), id)
}

func TestRevoke_KillsOutstandingRefreshTokens(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, newMemStore())
	ctx := context.Background()

	token, _, err := a.IssueRefresh(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, 5))

	_, err = a.VerifyAndConsumeRefresh(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConcurrentRefresh_OnlyOneWins(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	a := newTestAuthority(t, store)
	ctx := context.Background()

	token, _, err := a.IssueRefresh(ctx, 3)
	require.NoError(t, err)

	// Hold both goroutines at the swap boundary so each has already passed
	// signature verification before either commits.
	var gate sync.WaitGroup
	gate.Add(2)
	store.beforeSwap = func() {
		gate.Done()
		gate.Wait()
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := a.VerifyAndConsumeRefresh(ctx, token)
			results <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrInvalidToken)
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	assert.True(t, Authorize("user"))
	assert.True(t, Authorize("driver"))
	assert.False(t, Authorize("user", "admin"))
	assert.True(t, Authorize("admin", "admin", "user"))
	assert.True(t, Authorize("fleet_manager", "admin", "fleet_manager"))
	assert.False(t, Authorize("", "admin"))
}

func TestFingerprint_IsStableAndOneWay(t *testing.T) {
	t.Parallel()

	f1 := Fingerprint("some-token")
	f2 := Fingerprint("some-token")
	assert.Equal(t, f1, f2)
	assert.Len(t, f1, 64) // sha256 hex
	assert.NotEqual(t, f1, Fingerprint("some-other-token"))
}
