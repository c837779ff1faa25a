// Package provision orchestrates peer lifecycle operations: allocate,
// commit to the registry, project the artifacts, reload the interface.
package provision

import (
	"context"

	"github.com/arvelin/wg-provision/internal/provision/reload"
	"github.com/arvelin/wg-provision/pkg/crypto"
)

// KeyProvider generates WireGuard keypairs. The real implementation is
// crypto.Provider; tests inject deterministic fakes.
type KeyProvider interface {
	GenerateKeyPair() (*crypto.KeyPair, error)
}

// Reloader applies the on-disk interface config to the running device.
type Reloader interface {
	Apply(ctx context.Context) (*reload.Result, error)
}

// Locker serializes mutating operations across processes.
type Locker interface {
	Acquire() error
	Release() error
}
