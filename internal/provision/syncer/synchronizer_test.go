package syncer

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/registry"
	"github.com/arvelin/wg-provision/internal/provision/wgconf"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/logger"
)

func testIdentity() ServerIdentity {
	return ServerIdentity{
		PrivateKey:    "serverPrivAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		PublicKey:     "serverPubAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		Address:       net.IPv4(10, 66, 66, 1).To4(),
		PrefixLen:     24,
		InterfaceName: "wg0",
		ListenPort:    51820,
		EndpointHost:  "vpn.example.net",
		DNS:           "1.1.1.1,1.0.0.1",
		KeepaliveSec:  25,
		NATInterface:  "eth0",
	}
}

type fixture struct {
	sync       *Synchronizer
	keys       *keystore.Store
	configPath string
	profileDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	keys, err := keystore.New(filepath.Join(dir, "keys"))
	require.NoError(t, err)

	configPath := filepath.Join(dir, "wg0.conf")
	profileDir := filepath.Join(dir, "clients")
	log := logger.New(logger.Config{Level: logger.LevelError, Format: logger.FormatJSON})

	s, err := New(configPath, profileDir, keys, log)
	require.NoError(t, err)

	// Seed the base interface config the way bootstrap does.
	require.NoError(t, wgconf.WriteFile(configPath, BuildInterfaceDevice(nil, testIdentity())))

	return &fixture{sync: s, keys: keys, configPath: configPath, profileDir: profileDir}
}

func material(username string, offset int) PeerMaterial {
	return PeerMaterial{
		Peer:       registry.Peer{Username: username, HostOffset: offset},
		Address:    net.IPv4(10, 66, 66, byte(offset)).To4(),
		PrivateKey: username + "PrivKeyAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		PublicKey:  username + "PubKeyAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	}
}

func TestProjectAdd_WritesAllThreeArtifacts(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()
	m := material("alice", 2)

	require.NoError(t, f.sync.ProjectAdd(m, id))

	// Interface config gained exactly one peer section
	dev, err := wgconf.ParseFile(f.configPath)
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, m.PublicKey, dev.Peers[0].PublicKey)
	assert.Equal(t, "10.66.66.2/32", dev.Peers[0].AllowedIPs)
	assert.Equal(t, "alice", dev.Peers[0].Name)

	// Client profile exists with matching address and server parameters
	profile, err := wgconf.ParseFile(f.sync.ProfilePath("alice"))
	require.NoError(t, err)
	assert.Equal(t, m.PrivateKey, profile.Interface.PrivateKey)
	assert.Equal(t, "10.66.66.2/32", profile.Interface.Address)
	assert.Equal(t, id.DNS, profile.Interface.DNS)
	require.Len(t, profile.Peers, 1)
	assert.Equal(t, id.PublicKey, profile.Peers[0].PublicKey)
	assert.Equal(t, "vpn.example.net:51820", profile.Peers[0].Endpoint)
	assert.Equal(t, "0.0.0.0/0", profile.Peers[0].AllowedIPs)
	assert.Equal(t, 25, profile.Peers[0].PersistentKeepalive)

	// Key material landed in the store
	assert.True(t, f.keys.Exists("alice"))
}

func TestAddThenRemove_RestoresPreAddState(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	before, err := os.ReadFile(f.configPath)
	require.NoError(t, err)

	m := material("alice", 2)
	require.NoError(t, f.sync.ProjectAdd(m, id))
	require.NoError(t, f.sync.ProjectRemove("alice", m.PublicKey, id))

	after, err := os.ReadFile(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "interface config must return to pre-add bytes")

	_, err = os.Stat(f.sync.ProfilePath("alice"))
	assert.True(t, os.IsNotExist(err), "profile must be deleted")
	assert.False(t, f.keys.Exists("alice"), "key material must be deleted")
}

func TestProjectRemove_NeverTouchesOtherPeers(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	alice := material("alice", 2)
	bob := material("bob", 3)
	require.NoError(t, f.sync.ProjectAdd(alice, id))
	require.NoError(t, f.sync.ProjectAdd(bob, id))

	bobProfileBefore, err := os.ReadFile(f.sync.ProfilePath("bob"))
	require.NoError(t, err)

	require.NoError(t, f.sync.ProjectRemove("alice", alice.PublicKey, id))

	dev, err := wgconf.ParseFile(f.configPath)
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, bob.PublicKey, dev.Peers[0].PublicKey)

	bobProfileAfter, err := os.ReadFile(f.sync.ProfilePath("bob"))
	require.NoError(t, err)
	assert.Equal(t, string(bobProfileBefore), string(bobProfileAfter))
	assert.True(t, f.keys.Exists("bob"))
}

func TestReconcile_RebuildsFromScratch(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	// Corrupt the interface config entirely; reconcile must not care.
	require.NoError(t, os.WriteFile(f.configPath, []byte("[Interface]\nAddress = 1.2.3.4/32\n"), 0o600))

	materials := []PeerMaterial{material("alice", 2), material("bob", 3)}
	require.NoError(t, f.sync.Reconcile(materials, id))

	dev, err := wgconf.ParseFile(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, id.PrivateKey, dev.Interface.PrivateKey)
	assert.Equal(t, "10.66.66.1/24", dev.Interface.Address)
	require.Len(t, dev.Peers, 2)

	for _, m := range materials {
		_, err := os.Stat(f.sync.ProfilePath(m.Peer.Username))
		assert.NoError(t, err)
		assert.True(t, f.keys.Exists(m.Peer.Username))
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()
	materials := []PeerMaterial{material("alice", 2), material("bob", 3)}

	require.NoError(t, f.sync.Reconcile(materials, id))
	firstConfig, err := os.ReadFile(f.configPath)
	require.NoError(t, err)
	firstProfile, err := os.ReadFile(f.sync.ProfilePath("alice"))
	require.NoError(t, err)

	require.NoError(t, f.sync.Reconcile(materials, id))
	secondConfig, err := os.ReadFile(f.configPath)
	require.NoError(t, err)
	secondProfile, err := os.ReadFile(f.sync.ProfilePath("alice"))
	require.NoError(t, err)

	assert.Equal(t, string(firstConfig), string(secondConfig))
	assert.Equal(t, string(firstProfile), string(secondProfile))
}

func TestReconcile_DeletesOrphans(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	// A profile and key material for a peer the registry does not know
	require.NoError(t, os.WriteFile(filepath.Join(f.profileDir, "ghost.conf"), []byte("[Interface]\n"), 0o600))
	require.NoError(t, f.keys.Write("ghost", "priv", "pub"))
	// Server key material must survive reconciliation
	require.NoError(t, f.keys.Write(keystore.ServerKeyName, "spriv", "spub"))

	require.NoError(t, f.sync.Reconcile([]PeerMaterial{material("alice", 2)}, id))

	_, err := os.Stat(filepath.Join(f.profileDir, "ghost.conf"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, f.keys.Exists("ghost"))
	assert.True(t, f.keys.Exists(keystore.ServerKeyName))
	assert.True(t, f.keys.Exists("alice"))
}

func TestProjectAdd_MissingConfigIsSyncFailure(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()
	require.NoError(t, os.Remove(f.configPath))

	// Without the current config the synchronizer cannot know the other
	// peers' sections, so it must refuse rather than write a partial config.
	err := f.sync.ProjectAdd(material("alice", 2), id)
	require.Error(t, err)
	assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeSyncFailed))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, statErr := os.Stat(f.configPath)
	assert.True(t, os.IsNotExist(statErr), "no partial config may be written")
}

func TestProjectRemove_MissingConfigIsSyncFailure(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	m := material("alice", 2)
	require.NoError(t, f.sync.ProjectAdd(m, id))
	require.NoError(t, os.Remove(f.configPath))

	err := f.sync.ProjectRemove("alice", m.PublicKey, id)
	require.Error(t, err)
	assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeSyncFailed))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestProjectAdd_FailureIsSyncFailed(t *testing.T) {
	f := newFixture(t)
	id := testIdentity()

	// A directory squatting on the profile path makes the rename fail.
	require.NoError(t, os.Mkdir(f.sync.ProfilePath("alice"), 0o700))

	err := f.sync.ProjectAdd(material("alice", 2), id)
	require.Error(t, err)
	assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeSyncFailed))
}
