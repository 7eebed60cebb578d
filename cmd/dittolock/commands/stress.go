package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
	"github.com/marmos91/dittolock/pkg/workload"
)

var stressFlags struct {
	clients     int
	operations  int
	duration    time.Duration
	databases   int
	collections int
	timeout     time.Duration
	hold        time.Duration
	seed        uint64
	mix         string
	tickets     int
	noThrottle  bool
	snapshots   bool
	deadlocks   bool
	docLocking  bool
	output      string
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run a concurrent workload against an in-process lock manager",
	Long: `Run a randomized multi-client workload against a fresh lock manager and
report throughput, lock wait percentiles and exclusivity violations.

Each client opens a locker and performs Global, database and collection
operations in the hierarchy order, resource mutex sections and temporary
releases. A checker verifies that no two clients ever hold conflicting
strong locks; any violation makes the command fail.

Flags override the "workload" and "lock" sections of the configuration.

Examples:
  # Default workload
  dittolock stress

  # Write-heavy run for ten seconds with 32 clients
  dittolock stress --clients 32 --duration 10s --mix collection_write=10,database_exclusive=1

  # Reproduce a run and print JSON
  dittolock stress --seed 42 --output json`,
	RunE: runStress,
}

func init() {
	f := stressCmd.Flags()
	f.IntVarP(&stressFlags.clients, "clients", "c", 0, "Number of concurrent clients")
	f.IntVarP(&stressFlags.operations, "operations", "n", 0, "Operations per client (0 with --duration runs until it elapses)")
	f.DurationVarP(&stressFlags.duration, "duration", "d", 0, "Bound the whole run")
	f.IntVar(&stressFlags.databases, "databases", 0, "Number of databases")
	f.IntVar(&stressFlags.collections, "collections", 0, "Collections per database")
	f.DurationVar(&stressFlags.timeout, "timeout", 0, "Timeout of each acquisition")
	f.DurationVar(&stressFlags.hold, "hold", 0, "Time spent inside each critical section")
	f.Uint64Var(&stressFlags.seed, "seed", 0, "Seed for a reproducible run (0 picks one)")
	f.StringVar(&stressFlags.mix, "mix", "", "Operation weights, e.g. collection_read=10,global_write=1")
	f.IntVar(&stressFlags.tickets, "tickets", 0, "Ticket capacity for strong Global acquisitions")
	f.BoolVar(&stressFlags.noThrottle, "no-throttle", false, "Disable ticket throttling")
	f.BoolVar(&stressFlags.snapshots, "snapshots", true, "Give each client a recovery unit on an in-memory store")
	f.BoolVar(&stressFlags.deadlocks, "deadlock-detection", false, "Enable wait-for cycle detection")
	f.BoolVar(&stressFlags.docLocking, "document-level-locking", false, "Keep collection intent locks as intents")
	f.StringVarP(&stressFlags.output, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	printer, err := newPrinter(stressFlags.output)
	if err != nil {
		return err
	}

	wcfg, err := applyStressFlags(cmd, cfg.Workload)
	if err != nil {
		return err
	}

	lcfg := cfg.Lock
	if cmd.Flags().Changed("tickets") {
		lcfg.TicketCapacity = stressFlags.tickets
	}
	if stressFlags.noThrottle {
		lcfg.Throttling = false
	}
	if cmd.Flags().Changed("deadlock-detection") {
		lcfg.DeadlockDetection = stressFlags.deadlocks
	}
	if cmd.Flags().Changed("document-level-locking") {
		lcfg.DocumentLevelLocking = stressFlags.docLocking
	}

	manager := lock.NewManager(lcfg)

	var opts []workload.Option
	if lcfg.Throttling {
		tickets := lock.NewTicketHolder(lcfg.TicketCapacity)
		defer func() { _ = tickets.Close() }()
		opts = append(opts, workload.WithTicketHolder(tickets))
	}
	if stressFlags.snapshots {
		store, err := snapshot.Open(snapshot.DefaultConfig(), nil)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, workload.WithStore(store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := workload.NewRunner(manager, wcfg, opts...).Run(ctx)
	if res != nil {
		if err := printer.Print(stressReport{res}); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("workload failed: %w", runErr)
	}

	if leftover := manager.Dump(); len(leftover) > 0 {
		logger.Warn("Lock table not empty after the run", logger.Count(len(leftover)))
	}
	if res.Violations > 0 {
		return fmt.Errorf("%d exclusivity violations", res.Violations)
	}
	return nil
}

// applyStressFlags overlays the flags the user set on base.
func applyStressFlags(cmd *cobra.Command, base workload.Config) (workload.Config, error) {
	changed := cmd.Flags().Changed

	if changed("clients") {
		base.Clients = stressFlags.clients
	}
	if changed("operations") {
		base.Operations = stressFlags.operations
	}
	if changed("duration") {
		base.Duration = stressFlags.duration
		// A duration alone means "run until it elapses".
		if !changed("operations") {
			base.Operations = 0
		}
	}
	if changed("databases") {
		base.Databases = stressFlags.databases
	}
	if changed("collections") {
		base.Collections = stressFlags.collections
	}
	if changed("timeout") {
		base.Timeout = stressFlags.timeout
	}
	if changed("hold") {
		base.HoldTime = stressFlags.hold
	}
	if changed("seed") {
		base.Seed = stressFlags.seed
	}
	if changed("mix") {
		mix, err := workload.ParseMix(stressFlags.mix)
		if err != nil {
			return base, err
		}
		base.Mix = mix
	}

	if base.Clients < 0 || base.Operations < 0 {
		return base, fmt.Errorf("clients and operations must not be negative")
	}
	return base, nil
}

// stressReport renders a workload result as a per-operation table. JSON and
// YAML output encode the result itself.
type stressReport struct {
	*workload.Result
}

func (r stressReport) Headers() []string {
	return []string{"Operation", "Acquired", "Timeouts", "Deadlocks", "P50", "P99"}
}

func (r stressReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.PerOp)+1)
	for _, s := range r.PerOp {
		rows = append(rows, []string{
			s.Operation,
			strconv.FormatInt(s.Acquired, 10),
			strconv.FormatInt(s.Timeouts, 10),
			strconv.FormatInt(s.Deadlocks, 10),
			s.P50.String(),
			s.P99.String(),
		})
	}
	rows = append(rows, []string{
		"total",
		strconv.FormatInt(r.Operations, 10),
		strconv.FormatInt(r.Timeouts(), 10),
		strconv.FormatInt(r.Deadlocks(), 10),
		fmt.Sprintf("%.0f op/s", r.Throughput),
		fmt.Sprintf("%d violations", r.Violations),
	})
	return rows
}

func (r stressReport) Alignments() []int {
	return output.NewTableData(r.Headers()...).AlignRight(1, 2, 3, 4, 5).Alignments()
}

func (r stressReport) MarshalYAML() (any, error) {
	return r.Result, nil
}
