package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
)

var (
	// ErrConfigMissing means no remote panel URL or API key is saved.
	ErrConfigMissing = errors.New("remote panel integration is not configured")
	// ErrRemoteUnavailable covers network errors and timeouts.
	ErrRemoteUnavailable = client.ErrUnavailable
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = repository.ErrNotFound
	ErrUnauthorized      = errors.New("invalid credentials")
)

// RemoteRejectedError is a non-2xx answer from the remote panel.
type RemoteRejectedError struct {
	Op     string
	Status int
	Body   any
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote panel rejected %s: status %d", e.Op, e.Status)
}

func rejected(op string, resp *client.Response) *RemoteRejectedError {
	return &RemoteRejectedError{Op: op, Status: resp.Status, Body: resp.Body}
}

// NoAllocationError reports that no node had both a free allocation and
// enough memory. Nodes carries what was seen on every scanned node.
type NoAllocationError struct {
	Nodes []NodeStatus
}

func (e *NoAllocationError) Error() string {
	return fmt.Sprintf("no allocation available on any node (%d scanned, %d free)", len(e.Nodes), e.TotalFree())
}

func (e *NoAllocationError) TotalFree() int {
	total := 0
	for _, n := range e.Nodes {
		total += n.Free
	}
	return total
}

// Payload is what gets stored on the order.
func (e *NoAllocationError) Payload() map[string]any {
	nodes := e.Nodes
	if nodes == nil {
		nodes = []NodeStatus{}
	}
	return map[string]any{"error": "No allocation available on any node", "nodes": nodes}
}

// Summary renders "name: free/total free" per node.
func (e *NoAllocationError) Summary() string {
	parts := make([]string, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		parts = append(parts, fmt.Sprintf("%s: %d/%d free", n.Name, n.Free, n.Total))
	}
	return strings.Join(parts, "; ")
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// failurePayload turns a remote-call failure into the document stored on
// the order. Rejections keep the panel's own JSON body.
func failurePayload(err error) map[string]any {
	var rej *RemoteRejectedError
	var noAlloc *NoAllocationError
	switch {
	case errors.As(err, &noAlloc):
		return noAlloc.Payload()
	case errors.As(err, &rej):
		if body, ok := rej.Body.(map[string]any); ok {
			return body
		}
		return map[string]any{"error": rej.Error(), "status": rej.Status, "response": rej.Body}
	default:
		return map[string]any{"error": err.Error()}
	}
}
