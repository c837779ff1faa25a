// Package events defines the provisioning event types and payloads and the
// bus they travel on. This is the single source of truth for event names.
package events

import "time"

// Peer lifecycle events
const (
	EventPeerAdded        = "peer.added"
	EventPeerAddFailed    = "peer.add.failed"
	EventPeerRemoved      = "peer.removed"
	EventPeerRemoveFailed = "peer.remove.failed"
)

// Configuration and interface events
const (
	EventConfigReconciled     = "config.reconciled"
	EventInterfaceApplied     = "interface.applied"
	EventInterfaceApplyFailed = "interface.apply.failed"
)

// System events
const (
	EventBootstrapCompleted = "bootstrap.completed"
)

// PeerAddedEvent is emitted after a peer's registry record and artifacts are
// written and the interface reload succeeded.
type PeerAddedEvent struct {
	OperationID string
	Username    string
	Address     string
	PublicKey   string
	Timestamp   time.Time
}

// PeerAddFailedEvent is emitted when a peer add aborts at any stage.
type PeerAddFailedEvent struct {
	OperationID string
	Username    string
	Stage       string
	Error       string
	Timestamp   time.Time
}

// PeerRemovedEvent is emitted after a peer and its artifacts are gone.
type PeerRemovedEvent struct {
	OperationID string
	Username    string
	Address     string
	Timestamp   time.Time
}

// PeerRemoveFailedEvent is emitted when a peer removal aborts.
type PeerRemoveFailedEvent struct {
	OperationID string
	Username    string
	Stage       string
	Error       string
	Timestamp   time.Time
}

// ConfigReconciledEvent is emitted after a full artifact rebuild.
type ConfigReconciledEvent struct {
	OperationID string
	PeerCount   int
	Regenerated int
	Timestamp   time.Time
}

// InterfaceAppliedEvent is emitted after the running interface picked up the
// on-disk config.
type InterfaceAppliedEvent struct {
	OperationID string
	Interface   string
	Mode        string
	Duration    time.Duration
	Timestamp   time.Time
}

// InterfaceApplyFailedEvent is emitted when both reload strategies failed.
type InterfaceApplyFailedEvent struct {
	OperationID string
	Interface   string
	Error       string
	Timestamp   time.Time
}

// BootstrapCompletedEvent is emitted once initial installation finishes.
type BootstrapCompletedEvent struct {
	OperationID string
	Interface   string
	Endpoint    string
	Timestamp   time.Time
}
