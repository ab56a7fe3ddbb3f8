package panelauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/storage"
)

func promoteMaster(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	token, err := env.engine.Tokens().GenerateMasterToken(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("master token: %v", err)
	}
	return token
}

func TestFirstMasterTokenPromotes(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	env.addUser(t, "ops@example.com")
	ctx := context.Background()

	token := promoteMaster(t, env, "root@example.com")
	if !strings.HasPrefix(token, PrefixMaster) {
		t.Fatalf("unexpected master token %q", token)
	}
	root := env.user(t, "root@example.com")
	if !root.Master || root.MasterTokenHash == "" || root.MasterTokenHash == token {
		t.Fatalf("expected hashed master token, got %+v", root)
	}
	if got := criticalEntries(env.mem, auditEventMasterTokenIssued); len(got) != 1 {
		t.Fatalf("expected critical issue entry, got %d", len(got))
	}

	if _, err := env.engine.Tokens().GenerateMasterToken(ctx, "ops@example.com", testPassword); !errors.Is(err, ErrMasterExists) {
		t.Fatalf("expected master exists, got %v", err)
	}
	if env.user(t, "ops@example.com").Master {
		t.Fatal("second account must not become master")
	}
	if got := criticalEntries(env.mem, auditEventMasterTokenDenied); len(got) != 1 {
		t.Fatalf("expected critical denial entry, got %d", len(got))
	}
}

func TestMasterTokenRotation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()

	first := promoteMaster(t, env, "root@example.com")
	second := promoteMaster(t, env, "root@example.com")

	if _, err := env.engine.Tokens().VerifyMasterToken(ctx, first); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("rotated token must fail, got %v", err)
	}
	master, err := env.engine.Tokens().VerifyMasterToken(ctx, second)
	if err != nil {
		t.Fatalf("current token: %v", err)
	}
	if master.MasterTokenGeneration != 2 {
		t.Fatalf("expected generation 2, got %d", master.MasterTokenGeneration)
	}
}

func TestMasterTokenWrongPasswordCountsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")

	if _, err := env.engine.Tokens().GenerateMasterToken(context.Background(), "root@example.com", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if n := env.user(t, "root@example.com").FailedAttempts; n != 1 {
		t.Fatalf("expected one failure, got %d", n)
	}
}

func TestSubTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ops := env.addUser(t, "ops@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")
	tokens := env.engine.Tokens()

	sub, err := tokens.GenerateSubToken(ctx, master, "ops@example.com")
	if err != nil {
		t.Fatalf("sub token: %v", err)
	}
	if !strings.HasPrefix(sub, PrefixSub+ops.ID+".") {
		t.Fatalf("sub token must carry its owner, got %q", sub)
	}

	id, err := tokens.VerifyAnyToken(ctx, sub)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Class != ClassSub || id.UserID != ops.ID || id.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}

	forged := PrefixSub + ops.ID + ".not-the-secret"
	if _, err := tokens.VerifySubToken(ctx, forged); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}

	if err := tokens.RevokeSubToken(ctx, master, "ops@example.com"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := tokens.VerifySubToken(ctx, sub); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
}

func TestSubTokenForbiddenTargets(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	if _, err := env.engine.Tokens().GenerateSubToken(ctx, master, "root@example.com"); !errors.Is(err, ErrForbiddenTarget) {
		t.Fatalf("expected forbidden self target, got %v", err)
	}
	if _, err := env.engine.Tokens().GenerateSubToken(ctx, master, "ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected unknown target, got %v", err)
	}
	if _, err := env.engine.Tokens().GenerateSubToken(ctx, PrefixMaster+"bogus", "root@example.com"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected bad master token, got %v", err)
	}
}

func TestEmergencyTokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")
	tokens := env.engine.Tokens()

	emergency, err := tokens.CreateEmergencyToken(ctx, master, "break glass", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored := env.mem.Tokens(storage.TokenEmergency)
	if len(stored) != 1 || stored[0].Label != "break glass" {
		t.Fatalf("unexpected stored tokens %+v", stored)
	}
	if want := env.clock.Now().Add(env.engine.Config().Tokens.EmergencyDefaultTTL); !stored[0].ExpiresAt.Equal(want) {
		t.Fatalf("expected default ttl, got %v", stored[0].ExpiresAt)
	}

	id, err := tokens.VerifyAnyToken(ctx, emergency)
	if err != nil || id.Class != ClassEmergency {
		t.Fatalf("verify: %+v %v", id, err)
	}

	// Lockout does not stop the emergency path.
	if err := env.mem.LockUser(ctx, root.ID, env.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := tokens.UseEmergencyToken(ctx, emergency, "root@example.com", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected password check, got %v", err)
	}

	res, err := tokens.UseEmergencyToken(ctx, emergency, "root@example.com", testPassword)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if res.Session == nil || res.Session.UserID != root.ID {
		t.Fatalf("expected master session, got %+v", res.Session)
	}
	if _, err := tokens.VerifyMasterToken(ctx, master); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("master token must be rotated, got %v", err)
	}
	if _, err := tokens.VerifyMasterToken(ctx, res.MasterToken); err != nil {
		t.Fatalf("rotated master token: %v", err)
	}
	if got := criticalEntries(env.mem, auditEventEmergencyTokenUsed); len(got) != 1 {
		t.Fatalf("expected critical use entry, got %d", len(got))
	}

	if _, err := tokens.UseEmergencyToken(ctx, emergency, "root@example.com", testPassword); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected spent token rejected, got %v", err)
	}
}

func TestEmergencyTokenTTLClampedAndExpires(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	emergency, err := env.engine.Tokens().CreateEmergencyToken(ctx, master, "", 10*365*24*time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	maxTTL := env.engine.Config().Tokens.EmergencyMaxTTL
	if got := env.mem.Tokens(storage.TokenEmergency)[0].ExpiresAt; !got.Equal(env.clock.Now().Add(maxTTL)) {
		t.Fatalf("expected clamped expiry, got %v", got)
	}

	env.clock.Advance(maxTTL + time.Second)
	if _, err := env.engine.Tokens().UseEmergencyToken(ctx, emergency, "root@example.com", testPassword); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestEmergencyTokenRequiresMasterEmail(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	env.addUser(t, "ops@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	emergency, err := env.engine.Tokens().CreateEmergencyToken(ctx, master, "", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Tokens().UseEmergencyToken(ctx, emergency, "ops@example.com", testPassword); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected non-master rejected, got %v", err)
	}
	if got := criticalEntries(env.mem, auditEventEmergencyTokenFailed); len(got) != 1 {
		t.Fatalf("expected critical failure entry, got %d", len(got))
	}
}

func TestVerifyAnyTokenUnknownPrefix(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "ghp_abc", "pam", "Bearer pam_x"} {
		if _, err := env.engine.Tokens().VerifyAnyToken(context.Background(), token); !errors.Is(err, ErrUnknownTokenPrefix) {
			t.Fatalf("%q: expected unknown prefix, got %v", token, err)
		}
	}
}

func TestTokenVerificationThrottled(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.Throttle.MaxTokenPerIP = 2 }))
	ctx := WithClientIP(context.Background(), "192.0.2.50")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Tokens().VerifyMasterToken(ctx, PrefixMaster+"x"); !errors.Is(err, ErrTokenInvalidOrExpired) {
			t.Fatalf("attempt %d: expected invalid token, got %v", i, err)
		}
	}
	if _, err := env.engine.Tokens().VerifyMasterToken(ctx, PrefixMaster+"x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestCLIGrantFollowsTokenGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ops := env.addUser(t, "ops@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	sub, err := env.engine.Tokens().GenerateSubToken(ctx, master, "ops@example.com")
	if err != nil {
		t.Fatalf("sub token: %v", err)
	}
	grant, expires, err := env.engine.IssueCLIGrant(ctx, sub)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := env.clock.Now().Add(env.engine.Config().Grant.TTL); !expires.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expires)
	}

	id, err := env.engine.ParseCLIGrant(ctx, grant)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.UserID != ops.ID || id.Class != ClassSub || id.Generation != 1 {
		t.Fatalf("unexpected identity %+v", id)
	}

	if _, err := env.engine.Tokens().GenerateSubToken(ctx, master, "ops@example.com"); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if _, err := env.engine.ParseCLIGrant(ctx, grant); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("grant must die with its token generation, got %v", err)
	}
}

func TestCLIGrantExpiresAndRejectsEmergency(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	grant, _, err := env.engine.IssueCLIGrant(ctx, master)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cfg := env.engine.Config().Grant
	env.clock.Advance(cfg.TTL + cfg.Leeway + time.Second)
	if _, err := env.engine.ParseCLIGrant(ctx, grant); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected expired grant, got %v", err)
	}

	emergency, err := env.engine.Tokens().CreateEmergencyToken(ctx, master, "", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := env.engine.IssueCLIGrant(ctx, emergency); !errors.Is(err, ErrForbiddenTarget) {
		t.Fatalf("emergency tokens must not mint grants, got %v", err)
	}
	if _, err := env.engine.ParseCLIGrant(ctx, "not.a.jwt"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected malformed grant rejected, got %v", err)
	}
}

func TestCriticalAuditFailureBlocksIssuance(t *testing.T) {
	env := newTestEnv(t, withAudit(failingAudit{}))
	env.addUser(t, "root@example.com")

	_, err := env.engine.Tokens().GenerateMasterToken(context.Background(), "root@example.com", testPassword)
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("expected audit unavailable, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAuditCriticalFailure]; got != 1 {
		t.Fatalf("expected one critical audit failure, got %d", got)
	}
}

func TestAdminManagement(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	if _, err := env.engine.CreateInitialAdmin(ctx, "late@example.com", testPassword); !errors.Is(err, ErrMasterExists) {
		t.Fatalf("expected master exists, got %v", err)
	}

	created, err := env.engine.CreateAdmin(ctx, master, " New@Example.com ", testPassword)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if created.Email != "new@example.com" || created.Master || !created.Active {
		t.Fatalf("unexpected account %+v", created)
	}
	if _, err := env.engine.CreateAdmin(ctx, master, "new@example.com", testPassword); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate rejected, got %v", err)
	}
	if _, err := env.engine.CreateAdmin(ctx, master, "not-an-email", testPassword); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, err := env.engine.CreateAdmin(ctx, master, "short@example.com", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected policy violation, got %v", err)
	}

	sess := env.login(t, "new@example.com")
	sub, err := env.engine.Tokens().GenerateSubToken(ctx, master, "new@example.com")
	if err != nil {
		t.Fatalf("sub token: %v", err)
	}

	if err := env.engine.SetAdminActive(ctx, master, "new@example.com", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.engine.ValidateSession(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("sessions must be destroyed, got %v", err)
	}
	if _, err := env.engine.Tokens().VerifySubToken(ctx, sub); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("sub token must be revoked, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "new@example.com", testPassword); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}

	if err := env.engine.SetAdminActive(ctx, master, "new@example.com", true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	env.login(t, "new@example.com")

	if err := env.engine.SetAdminActive(ctx, master, "root@example.com", false); !errors.Is(err, ErrForbiddenTarget) {
		t.Fatalf("master cannot be deactivated, got %v", err)
	}
	if got := criticalEntries(env.mem, auditEventAdminStatusChange); len(got) != 2 {
		t.Fatalf("expected two status entries, got %d", len(got))
	}
}

func TestAdminBasePath(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "root@example.com")
	ctx := context.Background()
	master := promoteMaster(t, env, "root@example.com")

	base, err := env.engine.AdminBasePath(ctx)
	if err != nil {
		t.Fatalf("base path: %v", err)
	}
	if again, _ := env.engine.AdminBasePath(ctx); again != base {
		t.Fatalf("base path must be stable, got %q then %q", base, again)
	}
	if !env.engine.IsAdminPath(ctx, base+"/users") || env.engine.IsAdminPath(ctx, "/admin") {
		t.Fatalf("unexpected admin path matching for %q", base)
	}

	rotated, err := env.engine.RotateAdminBasePath(ctx, master)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated == base || env.engine.IsAdminPath(ctx, base) || !env.engine.IsAdminPath(ctx, rotated) {
		t.Fatalf("rotation did not take effect: %q -> %q", base, rotated)
	}
	if got := criticalEntries(env.mem, auditEventBasePathRotated); len(got) != 1 {
		t.Fatalf("expected critical rotation entry, got %d", len(got))
	}
}
