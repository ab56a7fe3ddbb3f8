package panelauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/storage"
)

func TestRecoveryTokenDisplayedAndUsed(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	enrollTOTP(t, env, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	token, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(token) != 4*5+3 {
		t.Fatalf("unexpected token shape %q", token)
	}
	if got := criticalEntries(env.mem, auditEventRecoveryTokenIssued); len(got) != 1 {
		t.Fatalf("expected critical issue entry, got %d", len(got))
	}

	// The second factor is bypassed.
	sess, err := env.engine.Recovery().VerifyAndUseToken(ctx, " "+token+" ")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if sess.UserID != root.ID || sess.Pending() {
		t.Fatalf("expected full master session, got %+v", sess)
	}
	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, token); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected spent token rejected, got %v", err)
	}
}

func TestRecoveryTokenDelivered(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	token, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "email")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token != "" {
		t.Fatal("delivered tokens must not be returned")
	}
	msg := env.notifier.last(t)
	if msg.Channel != "email" || msg.Address != "root@example.com" {
		t.Fatalf("unexpected delivery %+v", msg)
	}
	stored := env.mem.Tokens(storage.TokenRecovery)
	if len(stored) != 1 || stored[0].DeliveredAt.IsZero() {
		t.Fatalf("expected delivered record, got %+v", stored)
	}

	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, extract(t, recoveryPattern, msg.Body)); err != nil {
		t.Fatalf("use: %v", err)
	}
}

func TestRecoveryTokenOnlyForMaster(t *testing.T) {
	env := newTestEnv(t)
	ops := env.addUser(t, "ops@example.com")

	if _, err := env.engine.Recovery().GenerateToken(context.Background(), ops.ID, ""); !errors.Is(err, ErrNotMaster) {
		t.Fatalf("expected not master, got %v", err)
	}
	if _, err := env.engine.Recovery().GenerateToken(context.Background(), "missing", ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestRecoveryTokenReissueRevokesPrevious(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	first, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, first); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("first token must be revoked, got %v", err)
	}
	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, second); err != nil {
		t.Fatalf("second token: %v", err)
	}
}

func TestConcurrentRecoveryTokenIssuance(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	const issuers = 4
	var wg sync.WaitGroup
	tokens := make(chan string, issuers)
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
			if err != nil {
				t.Errorf("generate: %v", err)
				return
			}
			tokens <- token
		}()
	}
	wg.Wait()
	close(tokens)

	live := 0
	for _, tok := range env.mem.Tokens(storage.TokenRecovery) {
		if tok.UserID == root.ID && tok.Active(env.clock.Now()) {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected one active recovery token, got %d", live)
	}

	accepted := 0
	for token := range tokens {
		if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, token); err == nil {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one issued token to work, got %d", accepted)
	}
}

func TestRecoveryTokenDeliveryFailureRevokes(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	env.notifier.fail = errors.New("smtp down")

	if _, err := env.engine.Recovery().GenerateToken(context.Background(), root.ID, "email"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	for _, rec := range env.mem.Tokens(storage.TokenRecovery) {
		if rec.Active(env.clock.Now()) {
			t.Fatal("undelivered token must not stay live")
		}
	}
}

func TestRecoveryTokenExpiresAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	token, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := env.engine.OTP().SendCode(ctx, root.ID, "email"); err != nil {
		t.Fatalf("send code: %v", err)
	}
	env.login(t, "root@example.com")

	env.clock.Advance(25 * time.Hour)
	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, token); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	report, err := env.engine.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.RecoveryTokens != 1 || report.Codes != 1 || report.Sessions != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(env.mem.Tokens(storage.TokenRecovery)) != 0 {
		t.Fatal("expired recovery token still stored")
	}
}

func TestRevokeActiveRecoveryTokens(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	promoteMaster(t, env, "root@example.com")
	ctx := context.Background()

	token, err := env.engine.Recovery().GenerateToken(ctx, root.ID, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	n, err := env.engine.Recovery().RevokeActiveTokens(ctx, root.ID)
	if err != nil || n != 1 {
		t.Fatalf("revoke: %d %v", n, err)
	}
	if _, err := env.engine.Recovery().VerifyAndUseToken(ctx, token); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("revoked token must fail, got %v", err)
	}
}
