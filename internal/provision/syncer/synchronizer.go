// Package syncer projects the registry into its derived artifacts: the
// server interface config and the per-peer client profiles. The registry is
// authoritative; anything here can be rebuilt from it with Reconcile.
package syncer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/registry"
	"github.com/arvelin/wg-provision/internal/provision/wgconf"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/logger"
)

// PeerMaterial bundles everything needed to project one peer: its registry
// record, concrete address, and key material.
type PeerMaterial struct {
	Peer       registry.Peer
	Address    net.IP
	PrivateKey string
	PublicKey  string
}

// Synchronizer projects registry state into the interface config and client
// profile artifacts.
type Synchronizer struct {
	configPath string
	profileDir string
	keys       *keystore.Store
	logger     *logger.Logger
}

// New creates a synchronizer for the given artifact locations.
func New(configPath, profileDir string, keys *keystore.Store, log *logger.Logger) (*Synchronizer, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to create profile directory", false, err).WithMetadata("dir", profileDir)
	}
	return &Synchronizer{
		configPath: configPath,
		profileDir: profileDir,
		keys:       keys,
		logger:     log.WithComponent("syncer"),
	}, nil
}

// ProjectAdd writes the peer's key material and client profile and appends a
// matching [Peer] section to the interface config. Any failure is reported
// as sync_failed; the caller recovers with Reconcile rather than bespoke
// rollback.
func (s *Synchronizer) ProjectAdd(m PeerMaterial, id ServerIdentity) error {
	if err := s.keys.Write(m.Peer.Username, m.PrivateKey, m.PublicKey); err != nil {
		return s.syncFailure(m.Peer.Username, "writing key material", err)
	}

	if err := s.writeProfile(m, id); err != nil {
		return s.syncFailure(m.Peer.Username, "writing client profile", err)
	}

	dev, err := s.loadDevice()
	if err != nil {
		return s.syncFailure(m.Peer.Username, "loading interface config", err)
	}

	if existing := dev.FindPeer(m.PublicKey); existing == nil {
		dev.AppendPeer(wgconf.Peer{
			Name:       m.Peer.Username,
			PublicKey:  m.PublicKey,
			AllowedIPs: singleHost(m.Address),
		})
	}

	if err := wgconf.WriteFile(s.configPath, dev); err != nil {
		return s.syncFailure(m.Peer.Username, "writing interface config", err)
	}

	s.logger.Debug("projected peer add",
		"username", m.Peer.Username, "address", m.Address.String())
	return nil
}

// ProjectRemove deletes the peer's section from the interface config, keyed
// by public key, and removes its client profile and key material. Other
// peers' sections are rewritten verbatim.
func (s *Synchronizer) ProjectRemove(username, publicKey string, id ServerIdentity) error {
	dev, err := s.loadDevice()
	if err != nil {
		return s.syncFailure(username, "loading interface config", err)
	}

	if removed := dev.RemovePeer(publicKey); !removed {
		s.logger.Warn("peer section already absent from interface config",
			"username", username)
	}

	if err := wgconf.WriteFile(s.configPath, dev); err != nil {
		return s.syncFailure(username, "writing interface config", err)
	}

	if err := os.Remove(s.profilePath(username)); err != nil && !os.IsNotExist(err) {
		return s.syncFailure(username, "deleting client profile", err)
	}

	if err := s.keys.Delete(username); err != nil {
		return s.syncFailure(username, "deleting key material", err)
	}

	s.logger.Debug("projected peer remove", "username", username)
	return nil
}

// Reconcile regenerates the interface config and every client profile from
// scratch and deletes orphaned profiles and key material that no registry
// record backs. Applying it twice yields identical artifacts.
func (s *Synchronizer) Reconcile(materials []PeerMaterial, id ServerIdentity) error {
	dev := BuildInterfaceDevice(materials, id)
	if err := wgconf.WriteFile(s.configPath, dev); err != nil {
		return s.syncFailure("", "rewriting interface config", err)
	}

	known := make(map[string]bool, len(materials))
	for _, m := range materials {
		known[m.Peer.Username] = true
		if err := s.keys.Write(m.Peer.Username, m.PrivateKey, m.PublicKey); err != nil {
			return s.syncFailure(m.Peer.Username, "rewriting key material", err)
		}
		if err := s.writeProfile(m, id); err != nil {
			return s.syncFailure(m.Peer.Username, "rewriting client profile", err)
		}
	}

	if err := s.removeOrphanProfiles(known); err != nil {
		return err
	}
	return s.removeOrphanKeys(known)
}

// BuildInterfaceDevice assembles the full server config: the server
// [Interface] section plus one [Peer] section per registry entry.
func BuildInterfaceDevice(materials []PeerMaterial, id ServerIdentity) *wgconf.Device {
	dev := &wgconf.Device{
		Interface: wgconf.Interface{
			PrivateKey: id.PrivateKey,
			Address:    id.InterfaceAddress(),
			ListenPort: id.ListenPort,
			PostUp:     id.PostUp(),
			PostDown:   id.PostDown(),
		},
	}
	for _, m := range materials {
		dev.AppendPeer(wgconf.Peer{
			Name:       m.Peer.Username,
			PublicKey:  m.PublicKey,
			AllowedIPs: singleHost(m.Address),
		})
	}
	return dev
}

// BuildProfileDevice assembles one client profile: the peer's own interface
// plus the server as its single peer routing all traffic.
func BuildProfileDevice(m PeerMaterial, id ServerIdentity) *wgconf.Device {
	return &wgconf.Device{
		Interface: wgconf.Interface{
			PrivateKey: m.PrivateKey,
			Address:    singleHost(m.Address),
			DNS:        id.DNS,
		},
		Peers: []wgconf.Peer{{
			PublicKey:           id.PublicKey,
			AllowedIPs:          "0.0.0.0/0",
			Endpoint:            id.Endpoint(),
			PersistentKeepalive: id.KeepaliveSec,
		}},
	}
}

// ProfilePath returns where the named peer's client profile lives.
func (s *Synchronizer) ProfilePath(username string) string {
	return s.profilePath(username)
}

func (s *Synchronizer) writeProfile(m PeerMaterial, id ServerIdentity) error {
	return wgconf.WriteFile(s.profilePath(m.Peer.Username), BuildProfileDevice(m, id))
}

func (s *Synchronizer) profilePath(username string) string {
	return filepath.Join(s.profileDir, username+".conf")
}

// loadDevice parses the current interface config. A missing or unreadable
// file is an error: incremental projection cannot recover the other peers'
// sections, only a registry-driven Reconcile can.
func (s *Synchronizer) loadDevice() (*wgconf.Device, error) {
	return wgconf.ParseFile(s.configPath)
}

func (s *Synchronizer) removeOrphanProfiles(known map[string]bool) error {
	entries, err := os.ReadDir(s.profileDir)
	if err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to list profile directory", false, err).WithMetadata("dir", s.profileDir)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".conf")
		if !ok || known[name] {
			continue
		}
		if err := os.Remove(filepath.Join(s.profileDir, e.Name())); err != nil {
			return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
				"failed to delete orphan profile", false, err).WithMetadata("username", name)
		}
		s.logger.Warn("deleted orphan client profile", "username", name)
	}
	return nil
}

func (s *Synchronizer) removeOrphanKeys(known map[string]bool) error {
	names, err := s.keys.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == keystore.ServerKeyName || known[name] {
			continue
		}
		if err := s.keys.Delete(name); err != nil {
			return err
		}
		s.logger.Warn("deleted orphan key material", "username", name)
	}
	return nil
}

func (s *Synchronizer) syncFailure(username, stage string, err error) error {
	msg := fmt.Sprintf("projection failed while %s", stage)
	syncErr := sharedErrors.WrapWithDomain(err, sharedErrors.DomainSync,
		sharedErrors.ErrCodeSyncFailed, msg, false)
	if username != "" {
		syncErr = syncErr.WithMetadata("username", username)
	}
	return syncErr
}

func singleHost(addr net.IP) string {
	return addr.String() + "/32"
}
