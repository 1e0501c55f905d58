package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrNodeDisabled    = errors.New("node is disabled")
	ErrClientNotFound  = errors.New("client not found")
	ErrDuplicateClient = errors.New("client already exists")
	ErrDuplicateNode   = errors.New("node name already exists")
	ErrKeyNotFound     = errors.New("key not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// RemoteKind classifies why a panel operation against a node failed.
type RemoteKind string

const (
	// RemoteAuth means the node rejected the management credentials.
	RemoteAuth RemoteKind = "auth"
	// RemoteTransport means the node could not be reached (network error, timeout).
	RemoteTransport RemoteKind = "transport"
	// RemoteRejected means the node accepted the connection but refused the operation.
	RemoteRejected RemoteKind = "rejected"
)

// RemoteError represents a failure talking to one node's management panel.
// It always carries the node identity so fan-out reports can attribute it.
type RemoteError struct {
	NodeID   int64
	NodeName string
	Kind     RemoteKind
	Message  string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %s (id=%d) %s: %s: %v", e.NodeName, e.NodeID, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("node %s (id=%d) %s: %s", e.NodeName, e.NodeID, e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteAuthError creates a RemoteError for rejected credentials.
func NewRemoteAuthError(nodeID int64, nodeName, message string, err error) *RemoteError {
	return &RemoteError{NodeID: nodeID, NodeName: nodeName, Kind: RemoteAuth, Message: message, Err: err}
}

// NewRemoteTransportError creates a RemoteError for an unreachable node.
func NewRemoteTransportError(nodeID int64, nodeName, message string, err error) *RemoteError {
	return &RemoteError{NodeID: nodeID, NodeName: nodeName, Kind: RemoteTransport, Message: message, Err: err}
}

// NewRemoteRejectedError creates a RemoteError for a remote-side rejection.
func NewRemoteRejectedError(nodeID int64, nodeName, message string, err error) *RemoteError {
	return &RemoteError{NodeID: nodeID, NodeName: nodeName, Kind: RemoteRejected, Message: message, Err: err}
}

// AsRemote extracts a RemoteError from an error chain.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
