package protocol

// Environment variables the client sets for every worker.
const (
	EnvMUURL        = "AOBRIDGE_MU_URL"
	EnvCUURL        = "AOBRIDGE_CU_URL"
	EnvScheduler    = "AOBRIDGE_SCHEDULER"
	EnvHTTPTimeout  = "AOBRIDGE_HTTP_TIMEOUT"
	EnvInvocationID = "AOBRIDGE_INVOCATION_ID"
	EnvLogLevel     = "AOBRIDGE_LOG_LEVEL"
)
