package sync

import (
	"sort"

	"github.com/gorillaerror/xui-central/internal/shared/errors"
)

// Status is the aggregate outcome of a fan-out operation.
type Status string

const (
	// StatusFullSuccess means every targeted node completed.
	StatusFullSuccess Status = "full-success"
	// StatusPartialSuccess means at least one node failed but not all.
	StatusPartialSuccess Status = "partial-success"
	// StatusFailed means every targeted node failed.
	StatusFailed Status = "failed"
)

// NodeResult is the outcome of one node's share of a fan-out.
type NodeResult struct {
	NodeID   int64
	NodeName string
	OK       bool
	// Keys is how many key entries were written or removed on the node.
	Keys int
	// Kind and Error describe the failure when OK is false.
	Kind  errors.RemoteKind
	Error string
}

// Report is the result of one fan-out operation. Nodes are ordered by
// id so repeated invocations produce comparable output.
type Report struct {
	Operation string
	Status    Status
	Nodes     []NodeResult
}

func newReport(operation string, results []NodeResult) *Report {
	sort.Slice(results, func(i, j int) bool {
		return results[i].NodeID < results[j].NodeID
	})

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}

	status := StatusFullSuccess
	switch {
	case len(results) > 0 && failed == len(results):
		status = StatusFailed
	case failed > 0:
		status = StatusPartialSuccess
	}

	return &Report{
		Operation: operation,
		Status:    status,
		Nodes:     results,
	}
}

// FailedNodes returns the results of nodes that did not complete.
func (r *Report) FailedNodes() []NodeResult {
	var failed []NodeResult
	for _, n := range r.Nodes {
		if !n.OK {
			failed = append(failed, n)
		}
	}
	return failed
}

// ClientResult is the outcome of syncing one client during a node resync.
type ClientResult struct {
	Email string
	OK    bool
	// Keys is how many key entries were written for the client.
	Keys  int
	Error string
}

// ResyncReport is the result of replaying all enabled clients onto one node.
type ResyncReport struct {
	NodeID   int64
	NodeName string
	Status   Status
	Clients  []ClientResult
}

func newResyncReport(nodeID int64, nodeName string, clients []ClientResult) *ResyncReport {
	failed := 0
	for _, c := range clients {
		if !c.OK {
			failed++
		}
	}

	status := StatusFullSuccess
	switch {
	case len(clients) > 0 && failed == len(clients):
		status = StatusFailed
	case failed > 0:
		status = StatusPartialSuccess
	}

	return &ResyncReport{
		NodeID:   nodeID,
		NodeName: nodeName,
		Status:   status,
		Clients:  clients,
	}
}
