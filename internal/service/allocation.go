package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
)

// NodeStatus is what the selector saw on one node.
type NodeStatus struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Free         int      `json:"free"`
	Total        int      `json:"total"`
	RAMTotal     *float64 `json:"ram_total,omitempty"`
	RAMUsed      *float64 `json:"ram_used,omitempty"`
	RAMAvailable *float64 `json:"ram_available,omitempty"`
	RAMOK        bool     `json:"ram_ok"`
}

// AllocationSelector picks a free allocation on the first node that has
// room for the requested memory.
type AllocationSelector struct {
	panel RemotePanel
	log   *slog.Logger
}

func NewAllocationSelector(panel RemotePanel) *AllocationSelector {
	return &AllocationSelector{
		panel: panel,
		log:   slog.Default().With("component", "allocation_selector"),
	}
}

// Select scans nodes in listing order and returns the first free
// allocation on a node whose available memory covers ramMB. Nodes with
// unknown total memory are accepted. A node that fails to answer is
// recorded with zero counts and skipped.
//
// When nothing fits the error is a *NoAllocationError carrying every
// scanned node.
func (s *AllocationSelector) Select(ctx context.Context, creds client.Credentials, ramMB int64) (int64, []NodeStatus, error) {
	resp, err := s.panel.ListNodes(ctx, creds)
	if err != nil {
		return 0, nil, err
	}
	if !resp.OK() {
		return 0, nil, rejected("list nodes", resp)
	}

	var nodes []NodeStatus
	for _, item := range resp.Data() {
		attrs := client.Attributes(item)
		nodeID, ok := client.Int64(attrs["id"])
		if !ok {
			continue
		}
		status, candidate := s.inspectNode(ctx, creds, nodeID, attrs, ramMB)
		nodes = append(nodes, status)
		if candidate != 0 && status.RAMOK {
			s.log.Info("allocation selected", "node_id", nodeID, "allocation_id", candidate, "ram_mb", ramMB)
			return candidate, nodes, nil
		}
	}

	return 0, nodes, &NoAllocationError{Nodes: nodes}
}

func (s *AllocationSelector) inspectNode(ctx context.Context, creds client.Credentials, nodeID int64, attrs map[string]any, ramMB int64) (NodeStatus, int64) {
	status := NodeStatus{ID: nodeID, Name: nodeName(nodeID, attrs)}

	allocs, err := s.panel.ListNodeAllocations(ctx, creds, nodeID)
	if err != nil || !allocs.OK() {
		s.log.Warn("node allocations unavailable", "node_id", nodeID, "error", err)
		return status, 0
	}

	var candidate int64
	for _, item := range allocs.Data() {
		a := client.Attributes(item)
		status.Total++
		if !allocationFree(a) {
			continue
		}
		status.Free++
		if candidate == 0 {
			if id, ok := client.Int64(a["id"]); ok {
				candidate = id
			}
		}
	}

	used := 0.0
	if servers, err := s.panel.ListNodeServers(ctx, creds, nodeID); err == nil && servers.OK() {
		for _, item := range servers.Data() {
			limits, _ := client.Attributes(item)["limits"].(map[string]any)
			if mem, ok := client.Float64(limits["memory"]); ok {
				used += mem
			}
		}
	} else {
		s.log.Warn("node servers unavailable", "node_id", nodeID, "error", err)
	}
	status.RAMUsed = &used

	total, known := nodeMemory(attrs)
	if !known {
		status.RAMOK = true
		return status, candidate
	}
	avail := total - used
	status.RAMTotal = &total
	status.RAMAvailable = &avail
	status.RAMOK = avail >= float64(ramMB)
	return status, candidate
}

// allocationFree reports whether nothing is bound to an allocation. A falsy
// "assigned" marker (absent, null, false, 0 or "") means free; a truthy one
// still counts as free when "server" is explicitly null.
func allocationFree(a map[string]any) bool {
	server, hasServer := a["server"]
	if hasServer && server == nil {
		return true
	}
	v, ok := a["assigned"]
	if !ok {
		return !hasServer
	}
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case float64:
		return x == 0
	case string:
		return x == "" || x == "0" || strings.EqualFold(x, "false")
	}
	return false
}

func nodeMemory(attrs map[string]any) (float64, bool) {
	for _, key := range []string{"memory", "memory_total", "total_memory"} {
		if v, ok := client.Float64(attrs[key]); ok {
			return v, true
		}
	}
	return 0, false
}

func nodeName(id int64, attrs map[string]any) string {
	if name := client.String(attrs["name"]); name != "" {
		return name
	}
	if fqdn := client.String(attrs["fqdn"]); fqdn != "" {
		return fqdn
	}
	return fmt.Sprintf("node-%d", id)
}
