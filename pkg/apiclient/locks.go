package apiclient

import (
	"context"
	"net/url"
	"strings"
)

// Request is one granted or waiting request in a lock dump.
type Request struct {
	Locker          uint64 `json:"locker" yaml:"locker"`
	Status          string `json:"status" yaml:"status"`
	Mode            string `json:"mode" yaml:"mode"`
	ConvertMode     string `json:"convert_mode,omitempty" yaml:"convert_mode,omitempty"`
	RecursiveCount  int    `json:"recursive_count" yaml:"recursive_count"`
	CompatibleFirst bool   `json:"compatible_first,omitempty" yaml:"compatible_first,omitempty"`
}

// Resource is one lock head in a dump.
type Resource struct {
	Resource     string    `json:"resource" yaml:"resource"`
	ResourceType string    `json:"resource_type" yaml:"resource_type"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	Policy       string    `json:"policy" yaml:"policy"`
	Granted      []Request `json:"granted" yaml:"granted"`
	Waiting      []Request `json:"waiting" yaml:"waiting"`
}

// LocksFilter narrows a lock dump.
type LocksFilter struct {
	// Type keeps one resource type: global, flush, database, collection or mutex.
	Type string
	// WaitingOnly keeps only resources with queued requests.
	WaitingOnly bool
}

// Locks returns the server's lock table.
func (c *Client) Locks(ctx context.Context, filter LocksFilter) ([]Resource, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", strings.ToLower(filter.Type))
	}
	if filter.WaitingOnly {
		q.Set("waiting", "true")
	}

	var resources []Resource
	if err := c.get(ctx, "/debug/locks", q, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// WaitEdge says Waiter is queued on Resource behind WaitingOn.
type WaitEdge struct {
	Waiter    uint64   `json:"waiter" yaml:"waiter"`
	Resource  string   `json:"resource" yaml:"resource"`
	WaitingOn []uint64 `json:"waiting_on" yaml:"waiting_on"`
}

// DeadlockReport is the server's wait-for graph.
type DeadlockReport struct {
	Waiters    int        `json:"waiters" yaml:"waiters"`
	Deadlocked []uint64   `json:"deadlocked" yaml:"deadlocked"`
	Edges      []WaitEdge `json:"edges" yaml:"edges"`
}

// Deadlocks returns the wait-for graph and the lockers on a cycle.
func (c *Client) Deadlocks(ctx context.Context) (*DeadlockReport, error) {
	var report DeadlockReport
	if err := c.get(ctx, "/debug/deadlocks", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// TicketStatus is the server's ticket holder usage.
type TicketStatus struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Capacity    int  `json:"capacity" yaml:"capacity"`
	Outstanding int  `json:"outstanding" yaml:"outstanding"`
	Available   int  `json:"available" yaml:"available"`
}

// Tickets returns ticket holder usage.
func (c *Client) Tickets(ctx context.Context) (*TicketStatus, error) {
	var status TicketStatus
	if err := c.get(ctx, "/debug/tickets", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Policy returns the grant policy of "global" or "flush".
func (c *Client) Policy(ctx context.Context, resource string) (string, error) {
	var out struct {
		Policy string `json:"policy"`
	}
	if err := c.get(ctx, "/debug/locks/"+url.PathEscape(strings.ToLower(resource))+"/policy", nil, &out); err != nil {
		return "", err
	}
	return out.Policy, nil
}

// Ready checks the readiness probe. A non-nil error means not ready.
func (c *Client) Ready(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil, nil)
}
