package common

type contextKey string

const (
	TraceIdKey         contextKey = "trace_id"
	ApiKeyContextKey   contextKey = "api_key"
	ApiKeyIdContextKey contextKey = "api_key_id"
	TenantContextKey   contextKey = "tenant_id"
	ThreatResultKey    contextKey = "threat_result"
	AdminSubjectKey    contextKey = "admin_subject"
	LatencyContextKey  contextKey = "__execution_time"
)
