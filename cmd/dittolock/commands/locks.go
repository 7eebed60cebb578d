package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/pkg/apiclient"
)

var locksFlags struct {
	addr    string
	rtype   string
	waiting bool
	output  string
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show the lock table of a running server",
	Long: `Query the diagnostics API of a running dittolock server and print its lock
table: one row per granted or waiting request.

The server address defaults to the api section of the configuration.

Examples:
  # Whole lock table
  dittolock locks

  # Only contended databases, as JSON
  dittolock locks --type database --waiting -o json

  # Wait-for graph and deadlocked lockers
  dittolock locks deadlocks

  # Ticket usage
  dittolock locks tickets --addr 10.0.0.5:9470`,
	RunE: runLocks,
}

var locksDeadlocksCmd = &cobra.Command{
	Use:   "deadlocks",
	Short: "Show the wait-for graph and deadlocked lockers",
	RunE:  runLocksDeadlocks,
}

var locksTicketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Show ticket holder usage and the Global grant policy",
	RunE:  runLocksTickets,
}

func init() {
	pf := locksCmd.PersistentFlags()
	pf.StringVar(&locksFlags.addr, "addr", "", "Server address (default: from config)")
	pf.StringVarP(&locksFlags.output, "output", "o", "table", "Output format (table|json|yaml)")

	locksCmd.Flags().StringVarP(&locksFlags.rtype, "type", "t", "", "Only resources of this type (global, flush, database, collection, mutex)")
	locksCmd.Flags().BoolVarP(&locksFlags.waiting, "waiting", "w", false, "Only resources with waiting requests")

	locksCmd.AddCommand(locksDeadlocksCmd)
	locksCmd.AddCommand(locksTicketsCmd)
}

// apiClient builds a client for --addr or the configured API address.
func apiClient() (*apiclient.Client, error) {
	if locksFlags.addr != "" {
		return apiclient.New(locksFlags.addr), nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.API.IsEnabled() {
		return nil, fmt.Errorf("the API server is disabled in the configuration; pass --addr")
	}

	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return apiclient.New(net.JoinHostPort(host, strconv.Itoa(cfg.API.Port))), nil
}

func runLocks(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(locksFlags.output)
	if err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	resources, err := client.Locks(ctx, apiclient.LocksFilter{
		Type:        locksFlags.rtype,
		WaitingOnly: locksFlags.waiting,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch lock table: %w", err)
	}

	if printer.Format() == output.FormatTable && len(resources) == 0 {
		printer.Success("No locks held")
		return nil
	}
	return printer.Print(lockTable(resources))
}

// lockTable renders a dump with one row per request.
type lockTable []apiclient.Resource

func (t lockTable) Headers() []string {
	return []string{"Resource", "Policy", "Locker", "Status", "Mode", "Recursion", "Flags"}
}

func (t lockTable) Rows() [][]string {
	var rows [][]string
	for _, res := range t {
		name := res.ResourceType
		if res.Name != "" {
			name += " " + res.Name
		}

		requests := append(append([]apiclient.Request{}, res.Granted...), res.Waiting...)
		for _, req := range requests {
			mode := req.Mode
			if req.ConvertMode != "" && req.ConvertMode != "NONE" {
				mode += "->" + req.ConvertMode
			}
			var flags []string
			if req.CompatibleFirst {
				flags = append(flags, "compatible-first")
			}
			rows = append(rows, []string{
				name,
				res.Policy,
				strconv.FormatUint(req.Locker, 10),
				req.Status,
				mode,
				strconv.Itoa(req.RecursiveCount),
				strings.Join(flags, ","),
			})
		}
	}
	return rows
}

func runLocksDeadlocks(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(locksFlags.output)
	if err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	report, err := client.Deadlocks(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch wait-for graph: %w", err)
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(report)
	}

	if len(report.Deadlocked) == 0 {
		printer.Success(fmt.Sprintf("No deadlock (%d waiting lockers)", report.Waiters))
	} else {
		printer.Error(fmt.Sprintf("Deadlock between lockers %s", joinIDs(report.Deadlocked)))
	}
	if len(report.Edges) == 0 {
		return nil
	}

	table := output.NewTableData("Waiter", "Resource", "Waiting On")
	for _, e := range report.Edges {
		table.AddRow(strconv.FormatUint(e.Waiter, 10), e.Resource, joinIDs(e.WaitingOn))
	}
	return printer.Print(table)
}

func runLocksTickets(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(locksFlags.output)
	if err != nil {
		return err
	}
	client, err := apiClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	status, err := client.Tickets(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch ticket usage: %w", err)
	}
	policy, err := client.Policy(ctx, "global")
	if err != nil {
		return fmt.Errorf("failed to fetch global policy: %w", err)
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(ticketReport{TicketStatus: *status, GlobalPolicy: policy})
	}

	table := output.NewTableData("Throttling", "Capacity", "Outstanding", "Available", "Global Policy").AlignRight(1, 2, 3)
	throttling := "disabled"
	if status.Enabled {
		throttling = "enabled"
	}
	table.AddRow(throttling,
		strconv.Itoa(status.Capacity),
		strconv.Itoa(status.Outstanding),
		strconv.Itoa(status.Available),
		policy)
	return printer.Print(table)
}

type ticketReport struct {
	apiclient.TicketStatus `yaml:",inline"`
	GlobalPolicy           string `json:"global_policy" yaml:"global_policy"`
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ", ")
}
