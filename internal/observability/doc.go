// Package observability provides structured logging and Prometheus metrics
// for the job portal API.
//
// Loggers are zap based and pick up the chi request id from the context.
// Metrics cover HTTP traffic and the authentication lifecycle: tokens issued,
// tokens rejected by reason, logins and refresh outcomes.
package observability
