package internaldefs

import (
	"strconv"
	"strings"

	"github.com/coursemart/authcore"
)

// BucketCount is the number of latency buckets including the overflow bucket.
const BucketCount = len(authcore.LatencyBuckets) + 1

type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricSessionIssued, Name: "authcore_session_issued_total", Help: "Login sessions started."},
	{ID: authcore.MetricAuthorizeAllowed, Name: "authcore_authorize_allowed_total", Help: "Authorize calls that admitted the request."},
	{ID: authcore.MetricAuthorizeForbidden, Name: "authcore_authorize_forbidden_total", Help: "Authorize calls denied for a missing permission."},
	{ID: authcore.MetricAuthorizeUnauthenticated, Name: "authcore_authorize_unauthenticated_total", Help: "Authorize calls with an unusable access token."},
	{ID: authcore.MetricTokenExpired, Name: "authcore_token_expired_total", Help: "Tokens rejected as expired."},
	{ID: authcore.MetricTokenMalformed, Name: "authcore_token_malformed_total", Help: "Tokens rejected as malformed."},
	{ID: authcore.MetricTokenSignatureInvalid, Name: "authcore_token_signature_invalid_total", Help: "Tokens rejected for an invalid signature."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh exchanges."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected or failed refresh exchanges."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Exchanges of an already retired refresh token."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refresh exchanges refused by the per-session throttle."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Revocations of one or all sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricPrincipalDeactivated, Name: "authcore_principal_deactivated_total", Help: "Principals deactivated."},
	{ID: authcore.MetricRoleChanged, Name: "authcore_role_changed_total", Help: "Role assignments changed."},
	{ID: authcore.MetricStoreFailure, Name: "authcore_store_failure_total", Help: "Revocation store or throttle backend failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthorizeLatency, Name: "authcore_authorize_latency_seconds", Help: "Authorize latency."},
}

// HistogramBounds are the finite upper bounds in seconds; the overflow bucket is +Inf.
var HistogramBounds = func() []float64 {
	out := make([]float64, len(authcore.LatencyBuckets))
	for i, d := range authcore.LatencyBuckets {
		out[i] = d.Seconds()
	}
	return out
}()

// HistogramBoundSuffix names each bucket, overflow last, for exporters without
// native histograms (e.g. "0_00025", "inf").
var HistogramBoundSuffix = func() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range HistogramBounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}()

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
