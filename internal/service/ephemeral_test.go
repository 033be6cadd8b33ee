package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/models"
	"warden/internal/service"
)

func TestRequestResetIsUniform(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "nobody@example.com"))
	assert.Zero(t, h.mailer.count())

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "Alice@Example.com"))
	sent := h.mailer.last(t)
	assert.Equal(t, "reset", sent.Kind)
	assert.Equal(t, "alice@example.com", sent.To)
	assert.NotEmpty(t, sent.Token)
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")

	session, err := h.svc.Sessions.Login(ctx, "alice@example.com", "pw-alice")
	require.NoError(t, err)
	for i := 0; i < h.cfg.LockoutThreshold; i++ {
		_, _ = h.svc.Sessions.Login(ctx, "alice@example.com", "wrong")
	}

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	token := h.mailer.last(t).Token

	require.NoError(t, h.svc.Ephemeral.ResetPassword(ctx, token, "brand-new"))

	// Lockout cleared and every session ended.
	_, err = h.svc.Sessions.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, service.ErrTokenRevokedOrUnknown)
	_, err = h.svc.Sessions.Login(ctx, "alice@example.com", "brand-new")
	require.NoError(t, err)

	err = h.svc.Ephemeral.ResetPassword(ctx, token, "again")
	assert.ErrorIs(t, err, service.ErrTokenRevokedOrUnknown)
}

func TestNewResetRequestRevokesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	first := h.mailer.last(t).Token
	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	second := h.mailer.last(t).Token
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, h.svc.Ephemeral.ResetPassword(ctx, first, "x"), service.ErrTokenRevokedOrUnknown)
	assert.NoError(t, h.svc.Ephemeral.ResetPassword(ctx, second, "x"))
}

func TestResetTokenExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	token := h.mailer.last(t).Token

	h.clock.Advance(h.cfg.PasswordResetTTL + time.Second)
	assert.ErrorIs(t, h.svc.Ephemeral.ResetPassword(ctx, token, "x"), service.ErrTokenRevokedOrUnknown)

	_, err := h.svc.Sessions.Login(ctx, "alice@example.com", "pw-alice")
	assert.NoError(t, err)
}

func TestConcurrentResetConsumesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	token := h.mailer.last(t).Token

	const workers = 8
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		winner  atomic.Value
		unknown atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			password := fmt.Sprintf("candidate-%d", i)
			err := h.svc.Ephemeral.ResetPassword(ctx, token, password)
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(password)
			case errors.Is(err, service.ErrTokenRevokedOrUnknown):
				unknown.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, workers-1, unknown.Load())

	_, err := h.svc.Sessions.Login(ctx, "alice@example.com", winner.Load().(string))
	assert.NoError(t, err)
}

func TestVerifyEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "alice@example.com", "pw-alice")

	require.NoError(t, h.svc.Ephemeral.RequestVerification(ctx, "alice@example.com"))
	sent := h.mailer.last(t)
	assert.Equal(t, "verification", sent.Kind)

	// A verification token cannot reset a password.
	assert.ErrorIs(t, h.svc.Ephemeral.ResetPassword(ctx, sent.Token, "x"), service.ErrTokenRevokedOrUnknown)

	require.NoError(t, h.svc.Ephemeral.VerifyEmail(ctx, sent.Token))
	user, err := h.store.Users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	assert.ErrorIs(t, h.svc.Ephemeral.VerifyEmail(ctx, sent.Token), service.ErrTokenRevokedOrUnknown)

	before := h.mailer.count()
	require.NoError(t, h.svc.Ephemeral.RequestVerification(ctx, "alice@example.com"))
	assert.Equal(t, before, h.mailer.count())
}

func TestDispatchFailureKeepsToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "pw-alice")
	h.mailer.err = errors.New("smtp down")

	require.NoError(t, h.svc.Ephemeral.RequestReset(ctx, "alice@example.com"))
	token := h.mailer.last(t).Token

	assert.NoError(t, h.svc.Ephemeral.ResetPassword(ctx, token, "recovered"))
}

func TestConsumeRejectsSignedKinds(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Ephemeral.Consume(context.Background(), "whatever", models.TokenKindRefresh)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = h.svc.Ephemeral.Consume(context.Background(), "", models.TokenKindPasswordReset)
	assert.ErrorIs(t, err, service.ErrTokenRevokedOrUnknown)
}
