// Package keystore holds per-identity WireGuard key material on disk:
// <name>.key (private, mode 0600) and <name>.pub next to it. Key material is
// a projection, not the registry: losing it is recoverable by regenerating a
// keypair during reconciliation.
package keystore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// ServerKeyName is the reserved identity under which the server's own
// keypair is stored. Usernames must never collide with it.
const ServerKeyName = "server"

// Store manages key material files under a single directory.
type Store struct {
	dir string
}

// New creates a key store rooted at dir, creating it with restrictive
// permissions if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to create key directory", false, err).WithMetadata("dir", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the key directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Write stores a keypair for the named identity, replacing any previous one.
func (s *Store) Write(name, privateKey, publicKey string) error {
	if err := os.WriteFile(s.privatePath(name), []byte(privateKey+"\n"), 0o600); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to write private key", false, err).WithMetadata("name", name)
	}
	if err := os.WriteFile(s.publicPath(name), []byte(publicKey+"\n"), 0o644); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to write public key", false, err).WithMetadata("name", name)
	}
	return nil
}

// Read loads the keypair for the named identity.
func (s *Store) Read(name string) (privateKey, publicKey string, err error) {
	priv, err := os.ReadFile(s.privatePath(name))
	if err != nil {
		return "", "", sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to read private key", false, err).WithMetadata("name", name)
	}
	pub, err := os.ReadFile(s.publicPath(name))
	if err != nil {
		return "", "", sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to read public key", false, err).WithMetadata("name", name)
	}
	return strings.TrimSpace(string(priv)), strings.TrimSpace(string(pub)), nil
}

// PublicKey loads just the public key for the named identity.
func (s *Store) PublicKey(name string) (string, error) {
	pub, err := os.ReadFile(s.publicPath(name))
	if err != nil {
		return "", sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to read public key", false, err).WithMetadata("name", name)
	}
	return strings.TrimSpace(string(pub)), nil
}

// Exists reports whether both halves of the keypair are present.
func (s *Store) Exists(name string) bool {
	if _, err := os.Stat(s.privatePath(name)); err != nil {
		return false
	}
	_, err := os.Stat(s.publicPath(name))
	return err == nil
}

// Delete removes the identity's key material. Missing files are not an
// error: delete is idempotent so cleanup can be retried.
func (s *Store) Delete(name string) error {
	for _, path := range []string{s.privatePath(name), s.publicPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
				"failed to delete key material", false, err).WithMetadata("name", name)
		}
	}
	return nil
}

// List returns the names of all identities with a private key on disk,
// including ServerKeyName when present.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to list key directory", false, err).WithMetadata("dir", s.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".key"); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// CreatedAt returns the private key file's modification time, used as the
// peer's informational creation timestamp.
func (s *Store) CreatedAt(name string) (time.Time, bool) {
	info, err := os.Stat(s.privatePath(name))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (s *Store) privatePath(name string) string {
	return filepath.Join(s.dir, name+".key")
}

func (s *Store) publicPath(name string) string {
	return filepath.Join(s.dir, name+".pub")
}
