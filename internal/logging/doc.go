// Package logging builds the service's zap loggers and carries
// run and request correlation IDs through context.
//
// The logger writes JSON (or console output for local development) to
// stderr. Handlers store a logger and the correlation IDs in the request
// context; downstream code retrieves an already-tagged logger with
// FromContext.
package logging
