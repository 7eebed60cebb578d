package lock

import "time"

// ============================================================================
// Lock Configuration
// ============================================================================

// Config contains configuration settings for the lock manager and the lockers
// created from it.
type Config struct {
	// Buckets is the number of independently locked partitions of the lock table.
	// More buckets reduce contention between unrelated resources.
	// Default: 128
	Buckets int `mapstructure:"buckets" validate:"omitempty,min=1,max=65536" yaml:"buckets"`

	// Throttling enables ticket admission for strong (S/X) global acquisitions.
	// Default: true
	Throttling bool `mapstructure:"throttling" yaml:"throttling"`

	// TicketCapacity is the number of concurrent strong global holders admitted
	// when throttling is enabled. Can be changed at runtime through config reload.
	// Default: 128
	TicketCapacity int `mapstructure:"ticket_capacity" validate:"omitempty,min=1" yaml:"ticket_capacity"`

	// DocumentLevelLocking reports whether the storage layer supports
	// document-level concurrency. Without it, collection intent locks are
	// taken at the corresponding strong mode (IS as S, IX as X).
	// Default: false
	DocumentLevelLocking bool `mapstructure:"document_level_locking" yaml:"document_level_locking"`

	// MirrorFlushLock makes lockers take the flush resource alongside Global,
	// capped at IX.
	// Default: false
	MirrorFlushLock bool `mapstructure:"mirror_flush_lock" yaml:"mirror_flush_lock"`

	// DeadlockDetection makes blocked acquisitions periodically look for a
	// wait-for cycle and fail with a deadlock error when one is found.
	// Default: false
	DeadlockDetection bool `mapstructure:"deadlock_detection" yaml:"deadlock_detection"`

	// DeadlockCheckInterval is how often a blocked acquisition checks for cycles.
	// Default: 500ms
	DeadlockCheckInterval time.Duration `mapstructure:"deadlock_check_interval" yaml:"deadlock_check_interval"`

	// DefaultTimeout is used by callers that do not specify a timeout of their own.
	// Default: 0 (InfiniteTimeout)
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Buckets:               128,
		Throttling:            true,
		TicketCapacity:        128,
		DeadlockCheckInterval: 500 * time.Millisecond,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Buckets == 0 {
		c.Buckets = 128
	}
	if c.TicketCapacity == 0 {
		c.TicketCapacity = 128
	}
	if c.DeadlockCheckInterval == 0 {
		c.DeadlockCheckInterval = 500 * time.Millisecond
	}
}

// EffectiveDefaultTimeout returns DefaultTimeout, mapping zero to InfiniteTimeout.
func (c *Config) EffectiveDefaultTimeout() time.Duration {
	if c.DefaultTimeout <= 0 {
		return InfiniteTimeout
	}
	return c.DefaultTimeout
}
