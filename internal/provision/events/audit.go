package events

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gookit/event"

	"github.com/arvelin/wg-provision/pkg/logger"
)

// auditTimeFormat is the timestamp prefix of every audit line.
const auditTimeFormat = "2006-01-02 15:04:05"

// AuditLogger subscribes to provisioning events and appends one
// "<timestamp> - <message>" line per event to a plain-text audit file. Audit
// writes are best effort: a failed append is logged and never propagated to
// the operation that produced the event.
type AuditLogger struct {
	path   string
	mu     sync.Mutex
	logger *logger.Logger
}

// NewAuditLogger creates an audit logger appending to path.
func NewAuditLogger(path string, log *logger.Logger) *AuditLogger {
	return &AuditLogger{
		path:   path,
		logger: log.WithComponent("audit"),
	}
}

// Attach subscribes the audit logger to every event the bus publishes.
func (a *AuditLogger) Attach(bus *Bus) {
	for name, render := range auditRenderers {
		bus.Subscribe(name, event.ListenerFunc(func(e event.Event) error {
			if msg := render(e.Get("payload")); msg != "" {
				a.append(msg)
			}
			return nil
		}))
	}
}

// append writes one audit line under the mutex so concurrent events do not
// interleave within a line.
func (a *AuditLogger) append(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		a.logger.Warn("audit log unavailable", "path", a.path, "error", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s - %s\n", time.Now().Format(auditTimeFormat), message)
	if _, err := f.WriteString(line); err != nil {
		a.logger.Warn("audit append failed", "path", a.path, "error", err)
	}
}

var auditRenderers = map[string]func(payload any) string{
	EventPeerAdded: func(p any) string {
		if e, ok := p.(PeerAddedEvent); ok {
			return fmt.Sprintf("Added peer %s (%s)", e.Username, e.Address)
		}
		return ""
	},
	EventPeerAddFailed: func(p any) string {
		if e, ok := p.(PeerAddFailedEvent); ok {
			return fmt.Sprintf("Failed to add peer %s during %s: %s", e.Username, e.Stage, e.Error)
		}
		return ""
	},
	EventPeerRemoved: func(p any) string {
		if e, ok := p.(PeerRemovedEvent); ok {
			return fmt.Sprintf("Removed peer %s (%s)", e.Username, e.Address)
		}
		return ""
	},
	EventPeerRemoveFailed: func(p any) string {
		if e, ok := p.(PeerRemoveFailedEvent); ok {
			return fmt.Sprintf("Failed to remove peer %s during %s: %s", e.Username, e.Stage, e.Error)
		}
		return ""
	},
	EventConfigReconciled: func(p any) string {
		if e, ok := p.(ConfigReconciledEvent); ok {
			return fmt.Sprintf("Reconciled configuration for %d peers (%d keypairs regenerated)",
				e.PeerCount, e.Regenerated)
		}
		return ""
	},
	EventInterfaceApplied: func(p any) string {
		if e, ok := p.(InterfaceAppliedEvent); ok {
			return fmt.Sprintf("Applied configuration to interface %s via %s", e.Interface, e.Mode)
		}
		return ""
	},
	EventInterfaceApplyFailed: func(p any) string {
		if e, ok := p.(InterfaceApplyFailedEvent); ok {
			return fmt.Sprintf("Failed to apply configuration to interface %s: %s", e.Interface, e.Error)
		}
		return ""
	},
	EventBootstrapCompleted: func(p any) string {
		if e, ok := p.(BootstrapCompletedEvent); ok {
			return fmt.Sprintf("Installed WireGuard server on interface %s (endpoint %s)", e.Interface, e.Endpoint)
		}
		return ""
	},
}
