package events

import (
	"fmt"
	"time"

	"github.com/gookit/event"

	"github.com/arvelin/wg-provision/pkg/logger"
)

// Bus wraps the gookit event manager for provisioning events. Publishing
// never fails the operation that triggered it: listener errors are logged
// and swallowed.
type Bus struct {
	bus    *event.Manager
	logger *logger.Logger
}

// NewBus creates the provisioning event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		bus:    event.NewManager("provision"),
		logger: log.WithComponent("events"),
	}
}

// PublishPeerAdded publishes a peer added event.
func (b *Bus) PublishPeerAdded(operationID, username, address, publicKey string) {
	b.fire(EventPeerAdded, PeerAddedEvent{
		OperationID: operationID,
		Username:    username,
		Address:     address,
		PublicKey:   publicKey,
		Timestamp:   time.Now(),
	})
}

// PublishPeerAddFailed publishes a peer add failure event.
func (b *Bus) PublishPeerAddFailed(operationID, username, stage string, err error) {
	b.fire(EventPeerAddFailed, PeerAddFailedEvent{
		OperationID: operationID,
		Username:    username,
		Stage:       stage,
		Error:       err.Error(),
		Timestamp:   time.Now(),
	})
}

// PublishPeerRemoved publishes a peer removed event.
func (b *Bus) PublishPeerRemoved(operationID, username, address string) {
	b.fire(EventPeerRemoved, PeerRemovedEvent{
		OperationID: operationID,
		Username:    username,
		Address:     address,
		Timestamp:   time.Now(),
	})
}

// PublishPeerRemoveFailed publishes a peer removal failure event.
func (b *Bus) PublishPeerRemoveFailed(operationID, username, stage string, err error) {
	b.fire(EventPeerRemoveFailed, PeerRemoveFailedEvent{
		OperationID: operationID,
		Username:    username,
		Stage:       stage,
		Error:       err.Error(),
		Timestamp:   time.Now(),
	})
}

// PublishConfigReconciled publishes a reconciliation event.
func (b *Bus) PublishConfigReconciled(operationID string, peerCount, regenerated int) {
	b.fire(EventConfigReconciled, ConfigReconciledEvent{
		OperationID: operationID,
		PeerCount:   peerCount,
		Regenerated: regenerated,
		Timestamp:   time.Now(),
	})
}

// PublishInterfaceApplied publishes an interface reload event.
func (b *Bus) PublishInterfaceApplied(operationID, iface, mode string, duration time.Duration) {
	b.fire(EventInterfaceApplied, InterfaceAppliedEvent{
		OperationID: operationID,
		Interface:   iface,
		Mode:        mode,
		Duration:    duration,
		Timestamp:   time.Now(),
	})
}

// PublishInterfaceApplyFailed publishes an interface reload failure event.
func (b *Bus) PublishInterfaceApplyFailed(operationID, iface string, err error) {
	b.fire(EventInterfaceApplyFailed, InterfaceApplyFailedEvent{
		OperationID: operationID,
		Interface:   iface,
		Error:       err.Error(),
		Timestamp:   time.Now(),
	})
}

// PublishBootstrapCompleted publishes a bootstrap completion event.
func (b *Bus) PublishBootstrapCompleted(operationID, iface, endpoint string) {
	b.fire(EventBootstrapCompleted, BootstrapCompletedEvent{
		OperationID: operationID,
		Interface:   iface,
		Endpoint:    endpoint,
		Timestamp:   time.Now(),
	})
}

// Subscribe registers a listener for the named event.
func (b *Bus) Subscribe(name string, listener event.Listener) {
	b.bus.On(name, listener, event.Normal)
}

// Close shuts the bus down and drops all listeners.
func (b *Bus) Close() error {
	b.bus.Clear()
	return nil
}

func (b *Bus) fire(name string, payload any) {
	err, _ := b.bus.Fire(name, event.M{"payload": payload})
	if err != nil {
		b.logger.Error(fmt.Sprintf("failed to publish %s event", name),
			"error", err)
	}
}
