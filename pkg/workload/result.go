package workload

import (
	"math"
	"slices"
	"time"
)

// clientStats is owned by one client goroutine and merged after the run.
type clientStats struct {
	ops       int64
	yields    int64
	acquired  [opCount]int64
	timeouts  [opCount]int64
	deadlocks [opCount]int64
	waits     [opCount][]time.Duration
}

func (s *clientStats) record(op Operation, wait time.Duration) {
	s.acquired[op]++
	s.waits[op] = append(s.waits[op], wait)
}

// OperationStats summarizes one operation kind.
type OperationStats struct {
	Operation string        `json:"operation" yaml:"operation"`
	Acquired  int64         `json:"acquired" yaml:"acquired"`
	Timeouts  int64         `json:"timeouts" yaml:"timeouts"`
	Deadlocks int64         `json:"deadlocks" yaml:"deadlocks"`
	P50       time.Duration `json:"p50" yaml:"p50"`
	P99       time.Duration `json:"p99" yaml:"p99"`
}

// Result summarizes a run.
type Result struct {
	Clients    int              `json:"clients" yaml:"clients"`
	Seed       uint64           `json:"seed" yaml:"seed"`
	Operations int64            `json:"operations" yaml:"operations"`
	Yields     int64            `json:"yields" yaml:"yields"`
	Elapsed    time.Duration    `json:"elapsed" yaml:"elapsed"`
	Throughput float64          `json:"throughput" yaml:"throughput"`
	Violations int64            `json:"violations" yaml:"violations"`
	PerOp      []OperationStats `json:"per_operation" yaml:"per_operation"`
}

// Timeouts returns the total number of timed-out operations.
func (r *Result) Timeouts() int64 {
	var n int64
	for _, s := range r.PerOp {
		n += s.Timeouts
	}
	return n
}

// Deadlocks returns the total number of operations aborted as deadlock victims.
func (r *Result) Deadlocks() int64 {
	var n int64
	for _, s := range r.PerOp {
		n += s.Deadlocks
	}
	return n
}

func summarize(clients int, seed uint64, elapsed time.Duration, stats []*clientStats, violations int64) *Result {
	res := &Result{
		Clients:    clients,
		Seed:       seed,
		Elapsed:    elapsed,
		Violations: violations,
	}

	for _, op := range Operations() {
		st := OperationStats{Operation: op.String()}
		var waits []time.Duration
		for _, s := range stats {
			st.Acquired += s.acquired[op]
			st.Timeouts += s.timeouts[op]
			st.Deadlocks += s.deadlocks[op]
			waits = append(waits, s.waits[op]...)
		}
		if st.Acquired+st.Timeouts+st.Deadlocks == 0 {
			continue
		}
		slices.Sort(waits)
		st.P50 = percentile(waits, 0.50)
		st.P99 = percentile(waits, 0.99)
		res.PerOp = append(res.PerOp, st)
	}

	for _, s := range stats {
		res.Operations += s.ops
		res.Yields += s.yields
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.Throughput = float64(res.Operations) / secs
	}
	return res
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
