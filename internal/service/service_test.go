package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"warden/internal/config"
	"warden/internal/repository"
	"warden/internal/repository/sqlite/sqlitetest"
	"warden/internal/security"
	"warden/internal/service"
)

const (
	testAccessSecret  = "access-secret-access-secret-access-secret"
	testRefreshSecret = "refresh-secret-refresh-secret-refresh-secret"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	Kind  string
	To    string
	Token string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, email, token string) error {
	return m.record("verification", email, token)
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	return m.record("reset", email, token)
}

func (m *recordingMailer) record(kind, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{Kind: kind, To: email, Token: token})
	return m.err
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail dispatched")
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type harness struct {
	svc    *service.Services
	store  repository.Set
	clock  *clock
	mailer *recordingMailer
	cfg    config.SecurityConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cfg := config.SecurityConfig{
		JWTAccessSecret:      testAccessSecret,
		JWTRefreshSecret:     testRefreshSecret,
		Issuer:               "warden",
		JWTAccessTTL:         15 * time.Minute,
		JWTRefreshTTL:        7 * 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
		LockoutThreshold:     5,
		LockoutDuration:      15 * time.Minute,
	}

	hasher, err := security.NewPasswordHasher(security.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
	require.NoError(t, err)
	issuer, err := security.NewTokenIssuer(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.Issuer, clk.Now)
	require.NoError(t, err)

	store := sqlitetest.Store(t)
	mailer := &recordingMailer{}
	svc := service.New(service.Dependencies{
		Store:    store,
		Hasher:   hasher,
		Issuer:   issuer,
		Mailer:   mailer,
		Security: cfg,
		Clock:    clk.Now,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, svc.Roles.Seed(context.Background()))

	return &harness{svc: svc, store: store, clock: clk, mailer: mailer, cfg: cfg}
}

func (h *harness) register(t *testing.T, email, password string) string {
	t.Helper()
	user, err := h.svc.Sessions.Register(context.Background(), email, password)
	require.NoError(t, err)
	return user.ID
}

func (h *harness) roleID(t *testing.T, name string) string {
	t.Helper()
	role, err := h.store.Roles.GetByName(context.Background(), name)
	require.NoError(t, err)
	return role.ID
}
