package panelauth

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/panelauth/internal/memstore"
	"github.com/MrEthical07/panelauth/storage"
)

const (
	testKeyMaterial = "k7Vq2#pL9xW!mZ4rT8yB1nC6dF0gH3jS"
	testPassword    = "correct-horse-battery"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	Channel string
	Address string
	Subject string
	Body    string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	fail     error
	channels map[string]bool
}

func newFakeNotifier(channels ...string) *fakeNotifier {
	n := &fakeNotifier{channels: make(map[string]bool)}
	for _, c := range channels {
		n.channels[c] = true
	}
	return n
}

func (f *fakeNotifier) Send(_ context.Context, channel, address, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if !f.channels[channel] {
		return errors.New("no sender for channel")
	}
	f.sent = append(f.sent, sentMessage{Channel: channel, Address: address, Subject: subject, Body: body})
	return nil
}

func (f *fakeNotifier) Has(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channel]
}

func (f *fakeNotifier) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.channels))
	for c := range f.channels {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected a delivered message")
	}
	return f.sent[len(f.sent)-1]
}

var (
	digitsPattern   = regexp.MustCompile(`\b\d{6}\b`)
	resetPattern    = regexp.MustCompile(`reset your password: (\S+)`)
	recoveryPattern = regexp.MustCompile(`token: ([A-Z0-9-]+)`)
)

func extract(t *testing.T, re *regexp.Regexp, body string) string {
	t.Helper()
	m := re.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("pattern %s not found in %q", re, body)
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, storage.AuditEntry) (string, error) {
	return "", errors.New("audit table unavailable")
}

type testEnv struct {
	engine   *Engine
	mem      *memstore.Store
	notifier *fakeNotifier
	clock    *testClock
	redis    *miniredis.Miniredis
}

type envOption func(cfg *Config, repos *Repositories)

func withAudit(repo storage.AuditRepository) envOption {
	return func(_ *Config, repos *Repositories) { repos.Audit = repo }
}

func withConfig(fn func(cfg *Config)) envOption {
	return func(cfg *Config, _ *Repositories) { fn(cfg) }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TwoFactor.RecoveryCodeCount = 3
	cfg.Throttle.MaxLoginPerIP = 100
	cfg.Throttle.MaxTokenPerIP = 100
	return cfg
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := memstore.New()
	cfg := testConfig()
	repos := Repositories{
		Users:    mem,
		Tokens:   mem,
		Codes:    mem,
		Sessions: mem,
		Settings: mem,
		Audit:    mem,
	}
	for _, opt := range opts {
		opt(&cfg, &repos)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier := newFakeNotifier("email", "telegram")

	engine, err := New().
		WithConfig(cfg).
		WithRepositories(repos).
		WithRedis(rdb).
		WithNotifier(notifier).
		WithEncryptionKey(testKeyMaterial).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mem: mem, notifier: notifier, clock: clock, redis: mr}
}

// addUser stores an active admin directly, bypassing audit.
func (env *testEnv) addUser(t *testing.T, email string) AdminUser {
	t.Helper()
	h, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := env.mem.CreateUser(context.Background(), AdminUser{
		Email:        email,
		PasswordHash: h,
		Active:       true,
		CreatedAt:    env.clock.Now(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return env.user(t, email)
}

func (env *testEnv) user(t *testing.T, email string) AdminUser {
	t.Helper()
	u, err := env.mem.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("load user %s: %v", email, err)
	}
	return u
}

func (env *testEnv) login(t *testing.T, email string) *Session {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.Session == nil {
		t.Fatalf("login %s: expected a full session, got %+v", email, res)
	}
	return res.Session
}

func criticalEntries(mem *memstore.Store, action string) []storage.AuditEntry {
	var out []storage.AuditEntry
	for _, e := range mem.AuditEntries() {
		if e.Critical && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
