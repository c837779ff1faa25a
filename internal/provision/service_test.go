package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvelin/wg-provision/internal/provision/alloc"
	"github.com/arvelin/wg-provision/internal/provision/config"
	"github.com/arvelin/wg-provision/internal/provision/events"
	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/registry"
	"github.com/arvelin/wg-provision/internal/provision/reload"
	"github.com/arvelin/wg-provision/internal/provision/syncer"
	"github.com/arvelin/wg-provision/internal/provision/wgconf"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/crypto"
	"github.com/arvelin/wg-provision/pkg/logger"
)

func eventListener[T any](fn func(T)) event.ListenerFunc {
	return event.ListenerFunc(func(e event.Event) error {
		if p, ok := e.Get("payload").(T); ok {
			fn(p)
		}
		return nil
	})
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Apply(context.Context) (*reload.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &reload.Result{Mode: reload.ModeSync}, nil
}

type fakeLocker struct {
	acquires int
	releases int
	err      error
}

func (f *fakeLocker) Acquire() error {
	if f.err != nil {
		return f.err
	}
	f.acquires++
	return nil
}

func (f *fakeLocker) Release() error {
	f.releases++
	return nil
}

type countingKeygen struct {
	calls int
	err   error
}

func (f *countingKeygen) GenerateKeyPair() (*crypto.KeyPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return crypto.GenerateKeyPair()
}

type serviceEnv struct {
	svc      *Service
	cfg      *config.Config
	registry *registry.FileRegistry
	keys     *keystore.Store
	sync     *syncer.Synchronizer
	reloader *fakeReloader
	locker   *fakeLocker
	keygen   *countingKeygen
	bus      *events.Bus
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	return newServiceEnvSubnet(t, "10.66.66.0/24")
}

func newServiceEnvSubnet(t *testing.T, cidr string) *serviceEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		InterfaceName:    "wg0",
		SubnetCIDR:       cidr,
		ServerHostOffset: 1,
		EndpointHost:     "vpn.example.net",
		ListenPort:       51820,
		DNS:              "1.1.1.1",
		KeepaliveSec:     25,
		NATInterface:     "eth0",
		ConfigDir:        filepath.Join(dir, "wireguard"),
		RegistryPath:     filepath.Join(dir, "users.txt"),
		ProfileDir:       filepath.Join(dir, "clients"),
		KeyDir:           filepath.Join(dir, "keys"),
	}
	require.NoError(t, os.MkdirAll(cfg.ConfigDir, 0o700))

	log := logger.New(logger.Config{Level: logger.LevelError, Format: logger.FormatJSON})

	reg, err := registry.NewFileRegistry(cfg.RegistryPath)
	require.NoError(t, err)
	keys, err := keystore.New(cfg.KeyDir)
	require.NoError(t, err)
	sync, err := syncer.New(cfg.InterfaceConfigPath(), cfg.ProfileDir, keys, log)
	require.NoError(t, err)

	subnet, err := cfg.Subnet()
	require.NoError(t, err)
	allocator, err := alloc.New(subnet, cfg.ServerHostOffset)
	require.NoError(t, err)

	// Server identity and base interface config as install leaves them
	serverKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, keys.Write(keystore.ServerKeyName, serverKP.PrivateKey, serverKP.PublicKey))
	id, err := syncer.LoadIdentity(cfg, keys)
	require.NoError(t, err)
	require.NoError(t, wgconf.WriteFile(cfg.InterfaceConfigPath(), syncer.BuildInterfaceDevice(nil, id)))

	reloader := &fakeReloader{}
	locker := &fakeLocker{}
	keygen := &countingKeygen{}
	bus := events.NewBus(log)
	t.Cleanup(func() { bus.Close() })

	svc := NewService(cfg, reg, keys, sync, allocator, keygen, reloader, locker, bus, log)
	return &serviceEnv{
		svc: svc, cfg: cfg, registry: reg, keys: keys, sync: sync,
		reloader: reloader, locker: locker, keygen: keygen, bus: bus,
	}
}

func TestAddPeer_Success(t *testing.T) {
	e := newServiceEnv(t)

	info, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "10.66.66.2", info.Address)
	assert.NotEmpty(t, info.PublicKey)
	assert.Nil(t, info.DataLimitGB)

	// Registry committed
	peer, err := e.registry.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, peer.HostOffset)

	// Artifacts projected
	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, info.PublicKey, dev.Peers[0].PublicKey)

	_, err = os.Stat(info.ProfilePath)
	assert.NoError(t, err)

	// Interface reloaded exactly once, under the lock
	assert.Equal(t, 1, e.reloader.calls)
	assert.Equal(t, 1, e.locker.acquires)
	assert.Equal(t, 1, e.locker.releases)
}

func TestAddPeer_DuplicateCheckedBeforeKeygen(t *testing.T) {
	e := newServiceEnv(t)

	_, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, e.keygen.calls)

	_, err = e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrDuplicateUser))
	assert.Equal(t, 1, e.keygen.calls, "rejected add must not generate keys")
}

func TestAddPeer_InvalidUsername(t *testing.T) {
	e := newServiceEnv(t)

	for _, username := range []string{"", "bad name", "-leading", "server"} {
		_, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: username})
		require.Error(t, err, "username %q", username)
		assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeValidation))
	}
}

func TestAddPeer_ReusesFreedAddress(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	a, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.NoError(t, err)

	require.NoError(t, e.svc.RemovePeer(ctx, "alice"))

	c, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "carol"})
	require.NoError(t, err)
	assert.Equal(t, a.Address, c.Address, "smallest freed address is reused")
}

func TestAddPeer_SubnetExhaustedAbortsBeforeMutation(t *testing.T) {
	// A /30 with the server on offset 1 leaves exactly one peer address.
	e := newServiceEnvSubnet(t, "10.66.66.0/30")
	ctx := context.Background()

	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)

	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrSubnetExhausted))

	// Nothing committed and nothing projected for the rejected peer
	peers, err := e.registry.List()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "alice", peers[0].Username)

	assert.False(t, e.keys.Exists("bob"))
	_, statErr := os.Stat(e.sync.ProfilePath("bob"))
	assert.True(t, os.IsNotExist(statErr))

	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
}

func TestAddPeer_MissingConfigRebuildsAllPeers(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.NoError(t, err)

	// The interface config vanishes out from under the tool
	require.NoError(t, os.Remove(e.cfg.InterfaceConfigPath()))

	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "carol"})
	require.NoError(t, err)

	// Every registered peer is back in the rewritten config, not just carol
	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	require.Len(t, dev.Peers, 3)

	peers, err := e.registry.List()
	require.NoError(t, err)
	require.Len(t, peers, 3)
	for i, p := range peers {
		assert.Equal(t, p.Username, dev.Peers[i].Name)
	}
}

func TestRemovePeer_MissingConfigRebuildsAllPeers(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(e.cfg.InterfaceConfigPath()))

	require.NoError(t, e.svc.RemovePeer(ctx, "alice"))

	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, "bob", dev.Peers[0].Name)
	assert.False(t, e.keys.Exists("alice"))
}

func TestAddPeer_LockHeld(t *testing.T) {
	e := newServiceEnv(t)
	e.locker.err = sharedErrors.ErrLockHeld

	_, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrLockHeld))
	assert.Equal(t, 0, e.keygen.calls)
}

func TestAddPeer_ReloadFailureKeepsPeer(t *testing.T) {
	e := newServiceEnv(t)
	e.reloader.err = sharedErrors.NewInterfaceError(sharedErrors.ErrCodeReloadFailed,
		"failed to reload interface", true, errors.New("exit status 1"))

	_, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.Error(t, err)
	assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeReloadFailed))
	assert.True(t, sharedErrors.IsRetryable(err))

	// The commit stands; apply can be retried on its own.
	_, regErr := e.registry.Get("alice")
	assert.NoError(t, regErr)

	e.reloader.err = nil
	assert.NoError(t, e.svc.Apply(context.Background()))
}

func TestRemovePeer_Success(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	info, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, e.svc.RemovePeer(ctx, "alice"))

	_, err = e.registry.Get("alice")
	assert.True(t, errors.Is(err, sharedErrors.ErrUserNotFound))

	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	assert.Empty(t, dev.Peers)

	_, err = os.Stat(info.ProfilePath)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, e.keys.Exists("alice"))
}

func TestRemovePeer_NotFound(t *testing.T) {
	e := newServiceEnv(t)

	err := e.svc.RemovePeer(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrUserNotFound))
	assert.Equal(t, 0, e.reloader.calls)
}

func TestRemovePeer_MissingKeyMaterialRebuilds(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.NoError(t, err)

	// Lose alice's keys out from under the tool
	require.NoError(t, e.keys.Delete("alice"))

	require.NoError(t, e.svc.RemovePeer(ctx, "alice"))

	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, "bob", dev.Peers[0].Name)
}

func TestListPeers_NoLock(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	limit := 50.0
	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice", DataLimitGB: &limit})
	require.NoError(t, err)

	lockUse := e.locker.acquires
	infos, err := e.svc.ListPeers(ctx)
	require.NoError(t, err)

	require.Len(t, infos, 1)
	assert.Equal(t, "alice", infos[0].Username)
	assert.Equal(t, "10.66.66.2", infos[0].Address)
	assert.NotEmpty(t, infos[0].PublicKey)
	require.NotNil(t, infos[0].DataLimitGB)
	assert.Equal(t, 50.0, *infos[0].DataLimitGB)
	assert.False(t, infos[0].CreatedAt.IsZero())
	assert.Equal(t, lockUse, e.locker.acquires, "list must not take the mutation lock")
}

func TestReconcile_RegeneratesMissingKeys(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	_, err := e.svc.AddPeer(ctx, AddPeerRequest{Username: "alice"})
	require.NoError(t, err)
	_, err = e.svc.AddPeer(ctx, AddPeerRequest{Username: "bob"})
	require.NoError(t, err)

	require.NoError(t, e.keys.Delete("alice"))
	require.NoError(t, os.Remove(e.cfg.InterfaceConfigPath()))

	report, err := e.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.PeerCount)
	assert.Equal(t, 1, report.Regenerated)

	assert.True(t, e.keys.Exists("alice"))
	dev, err := wgconf.ParseFile(e.cfg.InterfaceConfigPath())
	require.NoError(t, err)
	assert.Len(t, dev.Peers, 2)
}

func TestAddPeer_PublishesEvent(t *testing.T) {
	e := newServiceEnv(t)

	var added *events.PeerAddedEvent
	e.bus.Subscribe(events.EventPeerAdded, eventListener(func(p events.PeerAddedEvent) {
		added = &p
	}))

	_, err := e.svc.AddPeer(context.Background(), AddPeerRequest{Username: "alice"})
	require.NoError(t, err)

	require.NotNil(t, added)
	assert.Equal(t, "alice", added.Username)
	assert.Equal(t, "10.66.66.2", added.Address)
	assert.NotEmpty(t, added.OperationID)
}
