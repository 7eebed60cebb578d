package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/pkg/apiclient"
	"github.com/marmos91/dittolock/pkg/workload"
)

// newStressCmd returns a command with the stress flags bound to fresh storage.
func newStressCmd(t *testing.T) *cobra.Command {
	t.Helper()

	saved := stressFlags
	t.Cleanup(func() { stressFlags = saved })

	cmd := &cobra.Command{Use: "stress"}
	f := cmd.Flags()
	f.IntVarP(&stressFlags.clients, "clients", "c", 0, "")
	f.IntVarP(&stressFlags.operations, "operations", "n", 0, "")
	f.DurationVarP(&stressFlags.duration, "duration", "d", 0, "")
	f.IntVar(&stressFlags.databases, "databases", 0, "")
	f.DurationVar(&stressFlags.timeout, "timeout", 0, "")
	f.Uint64Var(&stressFlags.seed, "seed", 0, "")
	f.StringVar(&stressFlags.mix, "mix", "", "")
	return cmd
}

func TestApplyStressFlags_OnlyChanged(t *testing.T) {
	cmd := newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--clients", "3", "--seed", "42"}))

	cfg, err := applyStressFlags(cmd, workload.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Clients)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 1000, cfg.Operations)
	assert.Equal(t, 4, cfg.Databases)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, workload.DefaultMix(), cfg.Mix)
}

func TestApplyStressFlags_DurationClearsOperations(t *testing.T) {
	cmd := newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--duration", "2s"}))

	cfg, err := applyStressFlags(cmd, workload.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Duration)
	assert.Zero(t, cfg.Operations)

	cmd = newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--duration", "2s", "-n", "50"}))
	cfg, err = applyStressFlags(cmd, workload.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Operations)
}

func TestApplyStressFlags_Mix(t *testing.T) {
	cmd := newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--mix", "collection_write=3,mutex=1"}))

	cfg, err := applyStressFlags(cmd, workload.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, workload.Mix{CollectionWrite: 3, Mutex: 1}, cfg.Mix)

	cmd = newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--mix", "bogus=1"}))
	_, err = applyStressFlags(cmd, workload.DefaultConfig())
	assert.Error(t, err)

	cmd = newStressCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--clients", "-1"}))
	_, err = applyStressFlags(cmd, workload.DefaultConfig())
	assert.Error(t, err)
}

func TestStressReport_Table(t *testing.T) {
	res := &workload.Result{
		Clients:    2,
		Operations: 10,
		Throughput: 100,
		PerOp: []workload.OperationStats{
			{Operation: "collection_read", Acquired: 7, P50: time.Millisecond, P99: 3 * time.Millisecond},
			{Operation: "global_write", Acquired: 3, Timeouts: 1, Deadlocks: 2},
		},
	}
	report := stressReport{res}

	rows := report.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"collection_read", "7", "0", "0", "1ms", "3ms"}, rows[0])
	assert.Equal(t, []string{"total", "10", "1", "2", "100 op/s", "0 violations"}, rows[2])
	assert.Len(t, report.Alignments(), len(report.Headers()))

	var buf bytes.Buffer
	require.NoError(t, output.NewPrinter(&buf, output.FormatYAML, false).Print(report))
	assert.Contains(t, buf.String(), "clients: 2")
	assert.Contains(t, buf.String(), "per_operation:")

	buf.Reset()
	require.NoError(t, output.NewPrinter(&buf, output.FormatJSON, false).Print(report))
	assert.Contains(t, buf.String(), `"operations": 10`)
}

func TestLockTable_Rows(t *testing.T) {
	table := lockTable{
		{
			ResourceType: "Database",
			Name:         "db1",
			Policy:       "conflicting-first",
			Granted: []apiclient.Request{
				{Locker: 1, Status: "granted", Mode: "IX", ConvertMode: "X", RecursiveCount: 2},
			},
			Waiting: []apiclient.Request{
				{Locker: 2, Status: "waiting", Mode: "S", RecursiveCount: 1, CompatibleFirst: true},
			},
		},
	}

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Database db1", "conflicting-first", "1", "granted", "IX->X", "2", ""}, rows[0])
	assert.Equal(t, []string{"Database db1", "conflicting-first", "2", "waiting", "S", "1", "compatible-first"}, rows[1])
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "", joinIDs(nil))
	assert.Equal(t, "3, 7", joinIDs([]uint64{3, 7}))
}

func TestRootCmd_Subcommands(t *testing.T) {
	var names []string
	for _, c := range GetRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"start", "stress", "locks", "init", "config", "version", "completion"})

	locks, _, err := GetRootCmd().Find([]string{"locks", "deadlocks"})
	require.NoError(t, err)
	assert.Equal(t, "deadlocks", locks.Name())
	assert.NotNil(t, locks.Flags().Lookup("addr"), "inherits --addr")
}
