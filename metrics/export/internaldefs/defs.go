package internaldefs

import (
	"github.com/sitebook/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected because the email is taken."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Rejected logins."},
	{ID: authcore.MetricLoginTwoFactorRequired, Name: "authcore_login_two_factor_required_total", Help: "Logins stopped for a missing two-factor code."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Replayed refresh tokens."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Sessions revoked one at a time."},
	{ID: authcore.MetricSessionsRevokedOthers, Name: "authcore_sessions_revoked_others_total", Help: "Revoke-all-other-sessions operations."},
	{ID: authcore.MetricPasswordChanged, Name: "authcore_password_changed_total", Help: "Password changes."},
	{ID: authcore.MetricTwoFactorSetup, Name: "authcore_two_factor_setup_total", Help: "Two-factor enrollments started."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor enrollments confirmed."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor disables."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Rejected two-factor codes."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: authcore.MetricStorageFailure, Name: "authcore_storage_failure_total", Help: "Failed session or user store calls."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_access_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events dropped under
// backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// HistogramBounds are the upper bounds of the engine's eight latency
// buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside
// instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to exactly eight buckets.
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

// SeriesKind separates monotonic counters from point-in-time gauges.
type SeriesKind int

const (
	SeriesCounter SeriesKind = iota
	SeriesGauge
)

// Series is one exported number and how to read it from a snapshot.
type Series struct {
	Name string
	Help string
	Kind SeriesKind
	Read func(snapshot authcore.MetricsSnapshot, auditDropped uint64) uint64
}

// FlatSeries expands every counter, every histogram bucket and count, and
// the audit drop counter into single-valued series. Histogram buckets are
// cumulative gauges named <histogram>_bucket_le_<bound>.
func FlatSeries() []Series {
	out := make([]Series, 0, len(CounterDefs)+len(HistogramDefs)*(len(HistogramBoundSuffix)+1)+1)
	for _, def := range CounterDefs {
		id := def.ID
		out = append(out, Series{
			Name: def.Name,
			Help: def.Help,
			Kind: SeriesCounter,
			Read: func(s authcore.MetricsSnapshot, _ uint64) uint64 { return s.Counters[id] },
		})
	}

	for _, def := range HistogramDefs {
		id := def.ID
		for i, suffix := range HistogramBoundSuffix {
			out = append(out, Series{
				Name: def.Name + "_bucket_le_" + suffix,
				Help: "Cumulative histogram bucket count.",
				Kind: SeriesGauge,
				Read: func(s authcore.MetricsSnapshot, _ uint64) uint64 {
					return CumulativeBuckets(NormalizeBuckets(s.Histograms[id]))[i]
				},
			})
		}
		out = append(out, Series{
			Name: def.Name + "_count",
			Help: "Histogram total sample count.",
			Kind: SeriesGauge,
			Read: func(s authcore.MetricsSnapshot, _ uint64) uint64 {
				all := CumulativeBuckets(NormalizeBuckets(s.Histograms[id]))
				return all[len(all)-1]
			},
		})
	}

	out = append(out, Series{
		Name: AuditDroppedName,
		Help: "Audit events dropped under backpressure.",
		Kind: SeriesCounter,
		Read: func(_ authcore.MetricsSnapshot, dropped uint64) uint64 { return dropped },
	})
	return out
}
