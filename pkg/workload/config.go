package workload

import (
	"fmt"
	"strings"
	"time"
)

// Config configures a stress workload.
type Config struct {
	// Clients is the number of concurrent clients.
	// Default: 8
	Clients int `mapstructure:"clients" yaml:"clients" validate:"gte=1"`

	// Operations is the number of operations each client runs. Zero runs
	// until Duration elapses.
	// Default: 1000
	Operations int `mapstructure:"operations" yaml:"operations" validate:"gte=0"`

	// Duration bounds the whole run. Zero means no bound.
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`

	// Databases and Collections size the namespace space: databases are
	// named db0..dbN-1 and collections db0.c0..
	// Default: 4 and 4
	Databases   int `mapstructure:"databases" yaml:"databases" validate:"gte=1"`
	Collections int `mapstructure:"collections" yaml:"collections" validate:"gte=1"`

	// Timeout bounds each acquisition.
	// Default: 1s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// HoldTime is spent inside each critical section.
	HoldTime time.Duration `mapstructure:"hold_time" yaml:"hold_time"`

	// Seed makes the operation sequence reproducible. Zero picks one from the clock.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`

	// Mix weighs the operation kinds.
	Mix Mix `mapstructure:"mix" yaml:"mix"`
}

// Mix holds relative weights per operation kind. Zero disables a kind.
type Mix struct {
	GlobalRead      int `mapstructure:"global_read" yaml:"global_read" validate:"gte=0"`
	GlobalWrite     int `mapstructure:"global_write" yaml:"global_write" validate:"gte=0"`
	DatabaseRead    int `mapstructure:"database_read" yaml:"database_read" validate:"gte=0"`
	DatabaseWrite   int `mapstructure:"database_write" yaml:"database_write" validate:"gte=0"`
	DatabaseX       int `mapstructure:"database_exclusive" yaml:"database_exclusive" validate:"gte=0"`
	CollectionRead  int `mapstructure:"collection_read" yaml:"collection_read" validate:"gte=0"`
	CollectionWrite int `mapstructure:"collection_write" yaml:"collection_write" validate:"gte=0"`
	Mutex           int `mapstructure:"mutex" yaml:"mutex" validate:"gte=0"`
	TempRelease     int `mapstructure:"temp_release" yaml:"temp_release" validate:"gte=0"`
}

// DefaultConfig returns a read-mostly mix over a small namespace.
func DefaultConfig() Config {
	return Config{
		Clients:     8,
		Operations:  1000,
		Databases:   4,
		Collections: 4,
		Timeout:     time.Second,
		Mix:         DefaultMix(),
	}
}

// DefaultMix returns the default operation weights.
func DefaultMix() Mix {
	return Mix{
		GlobalRead:      2,
		GlobalWrite:     1,
		DatabaseRead:    10,
		DatabaseWrite:   10,
		DatabaseX:       2,
		CollectionRead:  40,
		CollectionWrite: 25,
		Mutex:           5,
		TempRelease:     5,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Clients == 0 {
		c.Clients = 8
	}
	if c.Operations == 0 && c.Duration == 0 {
		c.Operations = 1000
	}
	if c.Databases == 0 {
		c.Databases = 4
	}
	if c.Collections == 0 {
		c.Collections = 4
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.Mix.total() == 0 {
		c.Mix = DefaultMix()
	}
}

func (m Mix) weights() [opCount]int {
	return [opCount]int{
		OpGlobalRead:      m.GlobalRead,
		OpGlobalWrite:     m.GlobalWrite,
		OpDatabaseRead:    m.DatabaseRead,
		OpDatabaseWrite:   m.DatabaseWrite,
		OpDatabaseX:       m.DatabaseX,
		OpCollectionRead:  m.CollectionRead,
		OpCollectionWrite: m.CollectionWrite,
		OpMutex:           m.Mutex,
		OpTempRelease:     m.TempRelease,
	}
}

func (m Mix) total() int {
	total := 0
	for _, w := range m.weights() {
		total += w
	}
	return total
}

// ParseMix parses "kind=weight,kind=weight" using the operation names, e.g.
// "collection_read=10,global_write=1". Kinds not named get weight zero.
func ParseMix(s string) (Mix, error) {
	var w [opCount]int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return Mix{}, fmt.Errorf("invalid mix entry %q: want kind=weight", part)
		}
		op, err := ParseOperation(strings.TrimSpace(name))
		if err != nil {
			return Mix{}, err
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &n); err != nil || n < 0 {
			return Mix{}, fmt.Errorf("invalid weight for %s: %q", op, value)
		}
		w[op] = n
	}

	m := Mix{
		GlobalRead:      w[OpGlobalRead],
		GlobalWrite:     w[OpGlobalWrite],
		DatabaseRead:    w[OpDatabaseRead],
		DatabaseWrite:   w[OpDatabaseWrite],
		DatabaseX:       w[OpDatabaseX],
		CollectionRead:  w[OpCollectionRead],
		CollectionWrite: w[OpCollectionWrite],
		Mutex:           w[OpMutex],
		TempRelease:     w[OpTempRelease],
	}
	if m.total() == 0 {
		return Mix{}, fmt.Errorf("mix %q enables no operation", s)
	}
	return m, nil
}
