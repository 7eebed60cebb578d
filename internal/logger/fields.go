package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Locking
	// ========================================================================
	KeyLockerID     = "locker_id"     // Locker (operation) identifier
	KeyResource     = "resource"      // Resource id: {hash: Type}
	KeyResourceType = "resource_type" // Resource category: Global, Database, Collection, ...
	KeyLockMode     = "lock_mode"     // Requested or held mode: IS, IX, S, X
	KeyPolicy       = "policy"        // Grant policy: FIFO, compatible-first
	KeyTimeoutMs    = "timeout_ms"    // Acquisition timeout in milliseconds (-1 = infinite)
	KeyTickets      = "tickets"       // Ticket capacity or outstanding count
	KeyNamespace    = "namespace"     // Database or "db.collection" namespace
	KeyMutexName    = "mutex"         // Named resource mutex label

	// ========================================================================
	// Workload
	// ========================================================================
	KeyClientID   = "client_id"   // Workload client identifier
	KeyClients    = "clients"     // Number of concurrent clients
	KeyOperations = "operations"  // Number of operations performed
	KeyViolations = "violations"  // Number of invariant violations observed
	KeyCount      = "count"       // Generic item count

	// ========================================================================
	// Server & Storage
	// ========================================================================
	KeyAddress    = "address"     // Listen address
	KeyConfigFile = "config_file" // Configuration file path
	KeyPath       = "path"        // Filesystem path
	KeyKey        = "key"         // Storage key

	// ========================================================================
	// Request Context
	// ========================================================================
	KeyRequestID = "request_id" // HTTP request identifier
	KeyMethod    = "method"     // HTTP method
	KeyStatus    = "status"     // HTTP status code
	KeyClientIP  = "client_ip"  // Client IP address

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Lock error code name
	KeyOperation  = "operation"   // Sub-operation type for complex operations
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Locking
// ----------------------------------------------------------------------------

// LockerID returns a slog.Attr for a locker identifier
func LockerID(id uint64) slog.Attr {
	return slog.Uint64(KeyLockerID, id)
}

// Resource returns a slog.Attr for a resource id
func Resource(r string) slog.Attr {
	return slog.String(KeyResource, r)
}

// ResourceType returns a slog.Attr for a resource category
func ResourceType(t string) slog.Attr {
	return slog.String(KeyResourceType, t)
}

// LockMode returns a slog.Attr for a lock mode
func LockMode(m string) slog.Attr {
	return slog.String(KeyLockMode, m)
}

// Policy returns a slog.Attr for a grant policy
func Policy(p string) slog.Attr {
	return slog.String(KeyPolicy, p)
}

// TimeoutMs returns a slog.Attr for an acquisition timeout.
// Negative timeouts are reported as -1.
func TimeoutMs(d time.Duration) slog.Attr {
	if d < 0 {
		return slog.Int64(KeyTimeoutMs, -1)
	}
	return slog.Int64(KeyTimeoutMs, d.Milliseconds())
}

// Tickets returns a slog.Attr for a ticket count
func Tickets(n int) slog.Attr {
	return slog.Int(KeyTickets, n)
}

// Namespace returns a slog.Attr for a database or collection namespace
func Namespace(ns string) slog.Attr {
	return slog.String(KeyNamespace, ns)
}

// MutexName returns a slog.Attr for a resource mutex label
func MutexName(name string) slog.Attr {
	return slog.String(KeyMutexName, name)
}

// ----------------------------------------------------------------------------
// Workload
// ----------------------------------------------------------------------------

// ClientID returns a slog.Attr for a workload client identifier
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Clients returns a slog.Attr for the number of clients
func Clients(n int) slog.Attr {
	return slog.Int(KeyClients, n)
}

// Operations returns a slog.Attr for an operation count
func Operations(n int64) slog.Attr {
	return slog.Int64(KeyOperations, n)
}

// Violations returns a slog.Attr for an invariant violation count
func Violations(n int64) slog.Attr {
	return slog.Int64(KeyViolations, n)
}

// Count returns a slog.Attr for a generic count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// ----------------------------------------------------------------------------
// Server & Storage
// ----------------------------------------------------------------------------

// Address returns a slog.Attr for a listen address
func Address(addr string) slog.Attr {
	return slog.String(KeyAddress, addr)
}

// ConfigFile returns a slog.Attr for a configuration file path
func ConfigFile(path string) slog.Attr {
	return slog.String(KeyConfigFile, path)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Key returns a slog.Attr for a storage key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// ----------------------------------------------------------------------------
// Request Context
// ----------------------------------------------------------------------------

// RequestID returns a slog.Attr for an HTTP request identifier
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Method returns a slog.Attr for an HTTP method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// ClientIP returns a slog.Attr for a client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a lock error code name
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
