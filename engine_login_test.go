package panelauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ops@example.com")

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.4"), "curl/8")
	res, err := env.engine.Login(ctx, "OPS@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Requires2FA || res.Session == nil {
		t.Fatalf("expected full session, got %+v", res)
	}
	if res.Session.UserID != user.ID || res.Session.IP != "198.51.100.4" {
		t.Fatalf("unexpected session %+v", res.Session)
	}
	if res.Session.Payload.CSRFToken == "" {
		t.Fatal("expected csrf token")
	}

	stored := env.user(t, "ops@example.com")
	if stored.LastLoginIP != "198.51.100.4" || !stored.LastLoginAt.Equal(env.clock.Now()) {
		t.Fatalf("login metadata not recorded: %+v", stored)
	}

	if _, err := env.engine.ValidateSession(ctx, res.Session.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected one login success, got %d", got)
	}
}

func TestLoginUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	ctx := context.Background()

	_, unknownErr := env.engine.Login(ctx, "nobody@example.com", testPassword)
	_, wrongErr := env.engine.Login(ctx, "ops@example.com", "not-the-password")

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", unknownErr, wrongErr)
	}
	if PublicMessage(unknownErr) != PublicMessage(wrongErr) {
		t.Fatal("public messages must not differ")
	}
}

func TestLoginLockoutEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	ctx := context.Background()
	threshold := env.engine.Config().Lockout.Threshold

	for i := 1; i <= threshold; i++ {
		_, err := env.engine.Login(ctx, "ops@example.com", "wrong-password-1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	user := env.user(t, "ops@example.com")
	base := env.engine.Config().Lockout.BaseDuration
	if want := env.clock.Now().Add(base); !user.LockedUntil.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, user.LockedUntil)
	}
	if got := criticalEntries(env.mem, auditEventAccountLocked); len(got) != 1 {
		t.Fatalf("expected one critical lock entry, got %d", len(got))
	}

	// The right password does not help while locked.
	if _, err := env.engine.Login(ctx, "ops@example.com", testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected locked, got %v", err)
	}

	env.clock.Advance(base + time.Second)
	if _, err := env.engine.Login(ctx, "ops@example.com", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	user = env.user(t, "ops@example.com")
	want := env.clock.Now().Add(env.engine.Config().Lockout.Duration(threshold + 1))
	if !user.LockedUntil.Equal(want) {
		t.Fatalf("expected escalated lock until %v, got %v", want, user.LockedUntil)
	}
	if want.Sub(env.clock.Now()) <= base {
		t.Fatal("second lock must be longer than the first")
	}

	env.clock.Advance(env.engine.Config().Lockout.MaxDuration)
	env.login(t, "ops@example.com")
	if user := env.user(t, "ops@example.com"); user.FailedAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", user.FailedAttempts)
	}
}

func TestLoginThrottledPerIP(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.Throttle.MaxLoginPerIP = 2 }))
	env.addUser(t, "ops@example.com")
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "nobody@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, "ops@example.com", testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	other := WithClientIP(context.Background(), "203.0.113.10")
	if _, err := env.engine.Login(other, "ops@example.com", testPassword); err != nil {
		t.Fatalf("other ip must not be throttled: %v", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "ops@example.com")
	if err := env.mem.SetActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := env.engine.Login(context.Background(), "ops@example.com", testPassword)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
	if PublicMessage(err) != PublicMessage(ErrInvalidCredentials) {
		t.Fatal("disabled accounts must not be distinguishable")
	}
}

func TestLoginStoreOutage(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	env.mem.FailNext = errors.New("connection reset")

	if _, err := env.engine.Login(context.Background(), "ops@example.com", testPassword); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestLogoutAndLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	ctx := context.Background()

	a := env.login(t, "ops@example.com")
	b := env.login(t, "ops@example.com")
	c := env.login(t, "ops@example.com")

	if err := env.engine.Logout(ctx, a.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.ValidateSession(ctx, a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected destroyed session, got %v", err)
	}
	if err := env.engine.Logout(ctx, a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found on second logout, got %v", err)
	}

	n, err := env.engine.LogoutAll(ctx, b.ID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one other session destroyed, got %d", n)
	}
	if _, err := env.engine.ValidateSession(ctx, b.ID); err != nil {
		t.Fatalf("current session must survive: %v", err)
	}
	if _, err := env.engine.ValidateSession(ctx, c.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected other session gone, got %v", err)
	}
}

func TestVerifyCSRF(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	sess := env.login(t, "ops@example.com")
	ctx := context.Background()

	if err := env.engine.VerifyCSRF(ctx, sess.ID, sess.Payload.CSRFToken); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := env.engine.VerifyCSRF(ctx, sess.ID, "forged"); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := env.engine.VerifyCSRF(ctx, "missing", sess.Payload.CSRFToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionExpiresAfterIdle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	sess := env.login(t, "ops@example.com")

	env.clock.Advance(env.engine.Config().Session.Lifetime + time.Minute)
	if _, err := env.engine.ValidateSession(context.Background(), sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestRoutineAuditIsAsynchronous(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ops@example.com")
	env.login(t, "ops@example.com")

	env.engine.Close()
	var found bool
	for _, e := range env.mem.AuditEntries() {
		if e.Action == auditEventLoginSuccess && e.Success && !e.Critical {
			found = true
		}
	}
	if !found {
		t.Fatal("expected login_success entry after drain")
	}
}

func TestPublicMessage(t *testing.T) {
	if PublicMessage(nil) != "" {
		t.Fatal("nil error must map to empty message")
	}
	if PublicMessage(ErrAccountLocked) != PublicMessage(ErrInvalidCredentials) {
		t.Fatal("locked must read as invalid credentials")
	}
	if PublicMessage(ErrStoreUnavailable) == PublicMessage(ErrInvalidCredentials) {
		t.Fatal("backend failures use the generic message")
	}
}
