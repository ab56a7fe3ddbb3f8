package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/storage"
)

func TestSetupLogging(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	var buf bytes.Buffer
	if err := SetupLogging("warn", "json", &buf); err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if err := SetupLogging("loud", "json", &buf); err == nil {
		t.Fatal("expected invalid level error")
	}
	if err := SetupLogging("info", "xml", &buf); err == nil {
		t.Fatal("expected invalid format error")
	}
}

func TestInitSentryEmptyDSN(t *testing.T) {
	if err := InitSentry("", "test"); err != nil {
		t.Fatalf("expected nil for empty dsn, got %v", err)
	}
}

func newCapturingHub(t *testing.T) (*sentry.Hub, func() []*sentry.Event) {
	t.Helper()

	var mu sync.Mutex
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("sentry.NewClient: %v", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*sentry.Event(nil), events...)
	}
}

func TestSecurityReporterCapturesCriticalOnly(t *testing.T) {
	hub, captured := newCapturingHub(t)
	r := NewSecurityReporter(hub)

	if _, err := r.Log(context.Background(), storage.AuditEntry{Action: "login_success", Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	id, err := r.Log(context.Background(), storage.AuditEntry{
		Action:   "account_locked",
		UserID:   "u1",
		Critical: true,
		Metadata: map[string]string{"attempts": "5"},
	})
	if err != nil || id == "" {
		t.Fatalf("expected id, got %q %v", id, err)
	}

	events := captured()
	if len(events) != 1 {
		t.Fatalf("expected 1 captured event, got %d", len(events))
	}
	ev := events[0]
	if ev.Tags["audit_action"] != "account_locked" || ev.Tags["meta.attempts"] != "5" {
		t.Fatalf("unexpected tags %v", ev.Tags)
	}
	if ev.User.ID != "u1" {
		t.Fatalf("expected user u1, got %q", ev.User.ID)
	}
}

func TestRecoverReturns500(t *testing.T) {
	log.SetOutput(&bytes.Buffer{})
	defer log.SetOutput(os.Stderr)

	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := ClientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestRedactPath(t *testing.T) {
	got := redactPath("/x-0123456789abcdef0123456789abcdef/users")
	if strings.Contains(got, "abcdef") {
		t.Fatalf("expected base path redacted, got %q", got)
	}
	if got := redactPath("/health"); got != "/health" {
		t.Fatalf("unexpected %q", got)
	}
}
