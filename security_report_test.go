package panelauth

import (
	"reflect"
	"strings"
	"testing"

	"github.com/MrEthical07/panelauth/internal/memstore"
)

func TestSecurityReportReflectsPosture(t *testing.T) {
	env := newTestEnv(t)
	report := env.engine.SecurityReport()

	if !report.RateLimitingActive || report.ThrottleFailOpen {
		t.Fatalf("throttle posture: %+v", report)
	}
	if !reflect.DeepEqual(report.DeliveryChannels, []string{"email", "telegram"}) {
		t.Fatalf("channels = %v", report.DeliveryChannels)
	}
	if report.Argon2.Memory != testConfig().Password.Memory || report.LockoutThreshold != 5 {
		t.Fatalf("credential posture: %+v", report)
	}
	for _, w := range report.Warnings {
		if strings.Contains(w, "throttling") || strings.Contains(w, "delivery channel") {
			t.Fatalf("unexpected warning %q", w)
		}
	}
}

func TestSecurityReportWithoutRedis(t *testing.T) {
	mem := memstore.New()
	engine, err := New().
		WithConfig(testConfig()).
		WithRepositories(Repositories{Users: mem, Tokens: mem, Codes: mem, Sessions: mem, Settings: mem, Audit: mem}).
		WithEncryptionKey(testKeyMaterial).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	report := engine.SecurityReport()
	if report.RateLimitingActive {
		t.Fatal("throttling reported without redis")
	}
	found := false
	for _, w := range report.Warnings {
		found = found || strings.Contains(w, "throttling is off")
	}
	if !found {
		t.Fatalf("missing throttle warning: %v", report.Warnings)
	}

	var nilEngine *Engine
	if got := nilEngine.SecurityReport(); got.LockoutActive || got.Warnings != nil {
		t.Fatalf("nil engine report: %+v", got)
	}
}
