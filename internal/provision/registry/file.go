package registry

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// FileRegistry is the line-oriented registry store. Every read loads the
// whole file; every mutation rewrites it to a temp file in the same
// directory, fsyncs, and renames it into place, so readers only ever observe
// a complete file and a crash mid-write cannot leave a partial record.
type FileRegistry struct {
	path string
}

// NewFileRegistry creates a registry store backed by the given file. The file
// is created empty if it does not exist so first use behaves like an empty
// registry.
func NewFileRegistry(path string) (*FileRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to create registry directory", false, err).WithMetadata("path", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to open registry file", false, err).WithMetadata("path", path)
	}
	f.Close()

	return &FileRegistry{path: path}, nil
}

// Path returns the backing file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Add persists a new peer record. Fails with duplicate_user if the username
// is already registered. The record is durable once Add returns.
func (r *FileRegistry) Add(peer Peer) error {
	if err := peer.Validate(); err != nil {
		return err
	}

	peers, err := r.load()
	if err != nil {
		return err
	}

	for _, existing := range peers {
		if existing.Username == peer.Username {
			return sharedErrors.ErrDuplicateUser.WithMetadata("username", peer.Username)
		}
		if existing.HostOffset == peer.HostOffset {
			return sharedErrors.NewRegistryError(sharedErrors.ErrCodeInvalidAddress,
				fmt.Sprintf("host offset %d already held by %s", peer.HostOffset, existing.Username), false, nil).
				WithMetadata("username", peer.Username)
		}
	}

	peers = append(peers, peer)
	return r.store(peers)
}

// Remove deletes the record for username. Fails with user_not_found if absent.
func (r *FileRegistry) Remove(username string) error {
	peers, err := r.load()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(peers, func(p Peer) bool { return p.Username == username })
	if idx < 0 {
		return sharedErrors.ErrUserNotFound.WithMetadata("username", username)
	}

	peers = slices.Delete(peers, idx, idx+1)
	return r.store(peers)
}

// Get looks up a single peer by username.
func (r *FileRegistry) Get(username string) (Peer, error) {
	peers, err := r.load()
	if err != nil {
		return Peer{}, err
	}
	for _, p := range peers {
		if p.Username == username {
			return p, nil
		}
	}
	return Peer{}, sharedErrors.ErrUserNotFound.WithMetadata("username", username)
}

// List returns all peers in creation (file) order.
func (r *FileRegistry) List() ([]Peer, error) {
	return r.load()
}

// All returns a restartable iterator over a consistent snapshot of the
// registry, in creation order. The snapshot is taken once; re-ranging the
// sequence replays the same records.
func (r *FileRegistry) All() (iter.Seq[Peer], error) {
	peers, err := r.load()
	if err != nil {
		return nil, err
	}
	return func(yield func(Peer) bool) {
		for _, p := range peers {
			if !yield(p) {
				return
			}
		}
	}, nil
}

// load reads and parses the registry file.
func (r *FileRegistry) load() ([]Peer, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to read registry file", false, err).WithMetadata("path", r.path)
	}
	defer f.Close()

	var peers []Peer
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		peer, err := ParseLine(line)
		if err != nil {
			return nil, sharedErrors.WrapWithDomain(err, sharedErrors.DomainRegistry,
				sharedErrors.ErrCodeRegistryCorrupt,
				fmt.Sprintf("registry line %d is malformed", lineNo), false)
		}
		peers = append(peers, peer)
	}
	if err := scanner.Err(); err != nil {
		return nil, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to scan registry file", false, err).WithMetadata("path", r.path)
	}

	return peers, nil
}

// store rewrites the registry through a temp file and rename.
func (r *FileRegistry) store(peers []Peer) error {
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to create temp registry file", false, err).WithMetadata("path", r.path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, p := range peers {
		if _, err := fmt.Fprintln(w, p.MarshalLine()); err != nil {
			tmp.Close()
			return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
				"failed to write registry record", false, err).WithMetadata("path", r.path)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to flush registry file", false, err).WithMetadata("path", r.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to sync registry file", false, err).WithMetadata("path", r.path)
	}
	if err := tmp.Close(); err != nil {
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to close temp registry file", false, err).WithMetadata("path", r.path)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to set registry file mode", false, err).WithMetadata("path", r.path)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		return sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryIO,
			"failed to replace registry file", false, err).WithMetadata("path", r.path)
	}
	return nil
}
