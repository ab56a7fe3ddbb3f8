package internaldefs

import (
	"github.com/MrEthical07/panelauth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of routine audit entries dropped by a
// full dispatcher queue.
const AuditDroppedName = "panelauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: panelauth.MetricLoginSuccess, Name: "panelauth_login_success_total", Help: "Completed logins."},
	{ID: panelauth.MetricLoginFailure, Name: "panelauth_login_failure_total", Help: "Failed password checks."},
	{ID: panelauth.MetricLoginRateLimited, Name: "panelauth_login_rate_limited_total", Help: "Login attempts refused by the per-IP throttle."},
	{ID: panelauth.MetricAccountLocked, Name: "panelauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: panelauth.MetricTwoFactorRequired, Name: "panelauth_two_factor_required_total", Help: "Logins that continued to a second factor."},
	{ID: panelauth.MetricTwoFactorSuccess, Name: "panelauth_two_factor_success_total", Help: "Accepted second factors."},
	{ID: panelauth.MetricTwoFactorFailure, Name: "panelauth_two_factor_failure_total", Help: "Rejected second factors."},
	{ID: panelauth.MetricTOTPReplay, Name: "panelauth_totp_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: panelauth.MetricRecoveryCodeUsed, Name: "panelauth_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: panelauth.MetricRecoveryCodeFailed, Name: "panelauth_recovery_code_failed_total", Help: "Recovery codes rejected."},
	{ID: panelauth.MetricRecoveryCodeLocked, Name: "panelauth_recovery_code_locked_total", Help: "Recovery code entry locked after misses."},
	{ID: panelauth.MetricOTPSent, Name: "panelauth_otp_sent_total", Help: "Delivered one-time codes sent."},
	{ID: panelauth.MetricOTPDeliveryFailed, Name: "panelauth_otp_delivery_failed_total", Help: "One-time code deliveries that failed."},
	{ID: panelauth.MetricSessionCreated, Name: "panelauth_session_created_total", Help: "Sessions created."},
	{ID: panelauth.MetricSessionRejected, Name: "panelauth_session_rejected_total", Help: "Session validations rejected."},
	{ID: panelauth.MetricLogout, Name: "panelauth_logout_total", Help: "Single-session logouts."},
	{ID: panelauth.MetricLogoutAll, Name: "panelauth_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: panelauth.MetricPasswordChangeSuccess, Name: "panelauth_password_change_success_total", Help: "Password changes."},
	{ID: panelauth.MetricPasswordChangeFailure, Name: "panelauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: panelauth.MetricPasswordResetRequest, Name: "panelauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: panelauth.MetricPasswordResetSuccess, Name: "panelauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: panelauth.MetricPasswordResetFailure, Name: "panelauth_password_reset_failure_total", Help: "Rejected password reset confirmations."},
	{ID: panelauth.MetricTokenIssued, Name: "panelauth_token_issued_total", Help: "CLI tokens issued."},
	{ID: panelauth.MetricTokenVerified, Name: "panelauth_token_verified_total", Help: "CLI tokens verified."},
	{ID: panelauth.MetricTokenRejected, Name: "panelauth_token_rejected_total", Help: "CLI tokens rejected."},
	{ID: panelauth.MetricEmergencyTokenUsed, Name: "panelauth_emergency_token_used_total", Help: "Emergency bypass tokens consumed."},
	{ID: panelauth.MetricRecoveryTokenUsed, Name: "panelauth_recovery_token_used_total", Help: "Master recovery tokens consumed."},
	{ID: panelauth.MetricSecretDecryptFailure, Name: "panelauth_secret_decrypt_failure_total", Help: "Stored secrets that failed to decrypt."},
	{ID: panelauth.MetricBasePathRotated, Name: "panelauth_base_path_rotated_total", Help: "Admin base path rotations."},
	{ID: panelauth.MetricAuditCriticalFailure, Name: "panelauth_audit_critical_failure_total", Help: "Critical audit writes that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: panelauth.MetricLoginLatency, Name: "panelauth_login_latency_seconds", Help: "Login latency."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the first
// seven engine buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names every bucket, +Inf included, for exporters
// that publish one gauge per bucket.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
