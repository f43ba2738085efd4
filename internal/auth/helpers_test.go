package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/store/memory"
)

var testSecrets = auth.Secrets{
	Access:  strings.Repeat("a", 32),
	Refresh: strings.Repeat("r", 32),
	Reset:   strings.Repeat("s", 32),
}

const (
	strongPassword = "Sup3r-Secret!"
	newPassword    = "N3w-Passw0rd!"
)

// testClock is a manually advanced time source shared by codec and ledgers.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendPasswordReset(ctx context.Context, email, resetURL string, expiresAt time.Time) error {
	args := m.Called(ctx, email, resetURL, expiresAt)
	return args.Error(0)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Outcome(flow, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[flow+"/"+outcome]++
}

func (r *countingRecorder) Count(flow, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[flow+"/"+outcome]
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	codec    *auth.TokenCodec
	hasher   *auth.Argon2idHasher
	notifier *mockNotifier
	recorder *countingRecorder
	gateway  *auth.Gateway
	gate     *auth.PermissionGate
	refresh  *auth.RefreshTokenLedger
	resets   *auth.PasswordResetLedger
}

func newFixture(t *testing.T, opts ...auth.LedgerOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewSeeded(),
		clock:    newTestClock(),
		hasher:   auth.NewArgon2idHasher(),
		notifier: &mockNotifier{},
		recorder: &countingRecorder{},
	}
	codec, err := auth.NewTokenCodec(testSecrets, auth.WithCodecClock(f.clock.Now))
	require.NoError(t, err)
	f.codec = codec

	ledgerOpts := append([]auth.LedgerOption{
		auth.WithLedgerClock(f.clock.Now),
		auth.WithLedgerRecorder(f.recorder),
	}, opts...)
	f.refresh = auth.NewRefreshTokenLedger(f.store, codec, ledgerOpts...)
	f.resets = auth.NewPasswordResetLedger(f.store, codec, ledgerOpts...)

	resolver := auth.NewPermissionResolver(f.store)
	f.gate = auth.NewPermissionGate(resolver, f.recorder)
	f.gateway, err = auth.NewGateway(auth.GatewayDeps{
		Directory: f.store,
		Hasher:    f.hasher,
		Codec:     codec,
		Resolver:  resolver,
		Verifier:  auth.NewCredentialVerifier(f.store, f.hasher, nil),
		Refresh:   f.refresh,
		Resets:    f.resets,
		Notifier:  f.notifier,
	},
		auth.WithResetURLBase("https://app.example.com/"),
		auth.WithPasswordUpdater(f.store),
		auth.WithRecorder(f.recorder),
	)
	require.NoError(t, err)
	t.Cleanup(func() { f.notifier.AssertExpectations(t) })
	return f
}

// addUser creates an active user holding roles with password strongPassword.
func (f *fixture) addUser(t *testing.T, email string, roles ...string) *auth.User {
	t.Helper()
	hash, err := f.hasher.Hash(strongPassword)
	require.NoError(t, err)
	u, err := f.store.AddUser(email, hash, true)
	require.NoError(t, err)
	for _, r := range roles {
		require.NoError(t, f.store.Assign(u.ID, r))
	}
	return u
}
