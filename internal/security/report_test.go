package security

import (
	"strings"
	"testing"
	"time"
)

func TestBuildReportHardened(t *testing.T) {
	r := BuildReport(ReportInput{
		SessionLifetime:    time.Hour,
		ExtendBy:           30 * time.Minute,
		MaxExtensions:      4,
		LockoutThreshold:   5,
		ThrottleConfigured: true,
		DeliveryChannels:   []string{"email"},
		RecoveryCodeCount:  10,
		AuditEnabled:       true,
	})
	if r.MaxSessionLifetime != 3*time.Hour {
		t.Fatalf("max lifetime = %s", r.MaxSessionLifetime)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", r.Warnings)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	r := BuildReport(ReportInput{
		SessionLifetime:    time.Hour,
		ExtendBy:           time.Hour,
		MaxExtensions:      48,
		AllowLegacySecrets: true,
		ThrottleFailOpen:   true,
	})
	if r.ThrottleFailOpen {
		t.Fatal("fail-open is meaningless without throttling")
	}
	want := []string{"throttling is off", "lockout is disabled", "no delivery channel", "recovery codes", "legacy TOTP", "audit logging", "extended to"}
	if len(r.Warnings) != len(want) {
		t.Fatalf("warnings = %v", r.Warnings)
	}
	for i, w := range want {
		if !strings.Contains(r.Warnings[i], w) {
			t.Fatalf("warning %d = %q, want %q", i, r.Warnings[i], w)
		}
	}
}
