package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/arvelin/wg-provision/internal/provision/alloc"
	"github.com/arvelin/wg-provision/internal/provision/config"
	"github.com/arvelin/wg-provision/internal/provision/events"
	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/registry"
	"github.com/arvelin/wg-provision/internal/provision/syncer"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/logger"
)

// AddPeerRequest carries the operator-supplied fields for a new peer.
type AddPeerRequest struct {
	Username              string
	DataLimitGB           *float64
	MonthlyTrafficLimitGB *float64
}

// PeerInfo is the operator-facing view of a provisioned peer.
type PeerInfo struct {
	Username              string
	Address               string
	PublicKey             string
	DataLimitGB           *float64
	MonthlyTrafficLimitGB *float64
	CreatedAt             time.Time
	ProfilePath           string
}

// ReconcileReport summarizes a reconciliation run.
type ReconcileReport struct {
	PeerCount   int
	Regenerated int
}

// Service coordinates the registry, key store, artifact synchronizer, and
// interface reload into the peer lifecycle operations.
type Service struct {
	cfg       *config.Config
	registry  *registry.FileRegistry
	keys      *keystore.Store
	sync      *syncer.Synchronizer
	allocator *alloc.Allocator
	keygen    KeyProvider
	reloader  Reloader
	locker    Locker
	bus       *events.Bus
	logger    *logger.Logger
}

// NewService wires the service from its collaborators.
func NewService(cfg *config.Config, reg *registry.FileRegistry, keys *keystore.Store,
	sync *syncer.Synchronizer, allocator *alloc.Allocator, keygen KeyProvider,
	reloader Reloader, locker Locker, bus *events.Bus, log *logger.Logger) *Service {
	return &Service{
		cfg:       cfg,
		registry:  reg,
		keys:      keys,
		sync:      sync,
		allocator: allocator,
		keygen:    keygen,
		reloader:  reloader,
		locker:    locker,
		bus:       bus,
		logger:    log.WithComponent("service"),
	}
}

// AddPeer provisions a new peer: validate, check for duplicates, generate a
// keypair, allocate the smallest free address, commit to the registry, then
// project artifacts and reload the interface. The registry write is the
// commit point; projection failures trigger one automatic reconciliation.
func (s *Service) AddPeer(ctx context.Context, req AddPeerRequest) (*PeerInfo, error) {
	opID := uuid.NewString()
	ctx = logger.WithOperationID(ctx, opID)
	ctx = logger.WithUsername(ctx, req.Username)
	op := s.logger.StartOp(ctx, "add_peer", "username", req.Username)

	peer := registry.Peer{
		Username:              req.Username,
		DataLimitGB:           req.DataLimitGB,
		MonthlyTrafficLimitGB: req.MonthlyTrafficLimitGB,
	}
	if err := registry.ValidateUsername(req.Username); err != nil {
		op.Fail(err, "")
		return nil, err
	}
	if req.Username == keystore.ServerKeyName {
		err := sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
			fmt.Sprintf("username %q is reserved", keystore.ServerKeyName), false, nil)
		op.Fail(err, "")
		return nil, err
	}

	if err := s.locker.Acquire(); err != nil {
		op.Fail(err, "")
		return nil, err
	}
	defer s.locker.Release()

	// Duplicate check comes before key generation so a rejected add never
	// burns entropy or leaves stray key material.
	if _, err := s.registry.Get(req.Username); err == nil {
		dupErr := sharedErrors.ErrDuplicateUser.WithMetadata("username", req.Username)
		s.bus.PublishPeerAddFailed(opID, req.Username, "validation", dupErr)
		op.Fail(dupErr, "")
		return nil, dupErr
	}

	kp, err := s.keygen.GenerateKeyPair()
	if err != nil {
		keyErr := sharedErrors.NewPeerError(sharedErrors.ErrCodeKeyGenFailed,
			"failed to generate peer key pair", false, err).WithMetadata("username", req.Username)
		s.bus.PublishPeerAddFailed(opID, req.Username, "keygen", keyErr)
		op.Fail(keyErr, "")
		return nil, keyErr
	}

	peers, err := s.registry.List()
	if err != nil {
		s.bus.PublishPeerAddFailed(opID, req.Username, "allocation", err)
		op.Fail(err, "")
		return nil, err
	}
	used := make([]int, 0, len(peers))
	for _, p := range peers {
		used = append(used, p.HostOffset)
	}

	offset, err := s.allocator.Allocate(used)
	if err != nil {
		s.bus.PublishPeerAddFailed(opID, req.Username, "allocation", err)
		op.Fail(err, "", "used_offsets", alloc.UsedOffsets(used))
		return nil, err
	}
	peer.HostOffset = offset

	address, err := s.allocator.AddressFor(offset)
	if err != nil {
		op.Fail(err, "")
		return nil, err
	}
	op.Progress("address allocated", "address", address.String())

	if err := s.registry.Add(peer); err != nil {
		s.bus.PublishPeerAddFailed(opID, req.Username, "commit", err)
		op.Fail(err, "")
		return nil, err
	}

	id, err := syncer.LoadIdentity(s.cfg, s.keys)
	if err != nil {
		s.bus.PublishPeerAddFailed(opID, req.Username, "identity", err)
		op.Fail(err, "")
		return nil, err
	}

	material := syncer.PeerMaterial{
		Peer:       peer,
		Address:    address,
		PrivateKey: kp.PrivateKey,
		PublicKey:  kp.PublicKey,
	}
	if err := s.sync.ProjectAdd(material, id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The interface config vanished out from under the tool.
			// Incremental projection cannot restore the other peers'
			// sections, so rebuild everything from the registry; the
			// committed record makes the new peer part of the rebuild.
			s.logger.WarnContext(ctx, "interface config missing, rebuilding all artifacts")
			if recErr := s.reconcileLocked(ctx, opID, id); recErr != nil {
				s.bus.PublishPeerAddFailed(opID, req.Username, "projection", recErr)
				op.Fail(recErr, "")
				return nil, recErr
			}
		} else {
			// The registry already has the peer; a full rebuild restores
			// artifact consistency without losing the committed record.
			s.bus.PublishPeerAddFailed(opID, req.Username, "projection", err)
			if recErr := s.reconcileLocked(ctx, opID, id); recErr != nil {
				s.logger.ErrorCtx(ctx, "reconcile after projection failure also failed", recErr)
			}
			op.Fail(err, "")
			return nil, err
		}
	}

	if err := s.applyLocked(ctx, opID); err != nil {
		op.Fail(err, "peer committed but interface reload failed, run apply to retry")
		return nil, err
	}

	s.bus.PublishPeerAdded(opID, req.Username, address.String(), kp.PublicKey)
	op.Complete("peer added", "address", address.String())

	return &PeerInfo{
		Username:              peer.Username,
		Address:               address.String(),
		PublicKey:             kp.PublicKey,
		DataLimitGB:           peer.DataLimitGB,
		MonthlyTrafficLimitGB: peer.MonthlyTrafficLimitGB,
		CreatedAt:             time.Now(),
		ProfilePath:           s.sync.ProfilePath(peer.Username),
	}, nil
}

// RemovePeer deletes a peer: registry first (the commit point), then the
// artifacts, then the interface reload.
func (s *Service) RemovePeer(ctx context.Context, username string) error {
	opID := uuid.NewString()
	ctx = logger.WithOperationID(ctx, opID)
	ctx = logger.WithUsername(ctx, username)
	op := s.logger.StartOp(ctx, "remove_peer", "username", username)

	if err := s.locker.Acquire(); err != nil {
		op.Fail(err, "")
		return err
	}
	defer s.locker.Release()

	peer, err := s.registry.Get(username)
	if err != nil {
		op.Fail(err, "")
		return err
	}

	address, err := s.allocator.AddressFor(peer.HostOffset)
	if err != nil {
		op.Fail(err, "")
		return err
	}

	// The public key is needed to find the peer's interface section. Missing
	// key material degrades to a full rebuild after the registry commit.
	publicKey, keyErr := s.keys.PublicKey(username)

	if err := s.registry.Remove(username); err != nil {
		s.bus.PublishPeerRemoveFailed(opID, username, "commit", err)
		op.Fail(err, "")
		return err
	}

	id, err := syncer.LoadIdentity(s.cfg, s.keys)
	if err != nil {
		s.bus.PublishPeerRemoveFailed(opID, username, "identity", err)
		op.Fail(err, "")
		return err
	}

	if keyErr != nil {
		s.logger.WarnContext(ctx, "key material missing, rebuilding artifacts", "username", username)
		if err := s.reconcileLocked(ctx, opID, id); err != nil {
			s.bus.PublishPeerRemoveFailed(opID, username, "projection", err)
			op.Fail(err, "")
			return err
		}
	} else if err := s.sync.ProjectRemove(username, publicKey, id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.WarnContext(ctx, "interface config missing, rebuilding all artifacts")
			if recErr := s.reconcileLocked(ctx, opID, id); recErr != nil {
				s.bus.PublishPeerRemoveFailed(opID, username, "projection", recErr)
				op.Fail(recErr, "")
				return recErr
			}
		} else {
			s.bus.PublishPeerRemoveFailed(opID, username, "projection", err)
			if recErr := s.reconcileLocked(ctx, opID, id); recErr != nil {
				s.logger.ErrorCtx(ctx, "reconcile after projection failure also failed", recErr)
			}
			op.Fail(err, "")
			return err
		}
	}

	if err := s.applyLocked(ctx, opID); err != nil {
		op.Fail(err, "peer removed but interface reload failed, run apply to retry")
		return err
	}

	s.bus.PublishPeerRemoved(opID, username, address.String())
	op.Complete("peer removed")
	return nil
}

// ListPeers returns the current peers without taking the mutation lock: the
// registry's rename discipline guarantees a consistent snapshot.
func (s *Service) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	peers, err := s.registry.List()
	if err != nil {
		return nil, err
	}

	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		info := PeerInfo{
			Username:              p.Username,
			DataLimitGB:           p.DataLimitGB,
			MonthlyTrafficLimitGB: p.MonthlyTrafficLimitGB,
			ProfilePath:           s.sync.ProfilePath(p.Username),
		}
		if addr, err := s.allocator.AddressFor(p.HostOffset); err == nil {
			info.Address = addr.String()
		}
		if pub, err := s.keys.PublicKey(p.Username); err == nil {
			info.PublicKey = pub
		}
		if created, ok := s.keys.CreatedAt(p.Username); ok {
			info.CreatedAt = created
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Reconcile rebuilds every artifact from the registry and reloads the
// interface. Peers whose key material vanished get fresh keypairs.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	opID := uuid.NewString()
	ctx = logger.WithOperationID(ctx, opID)
	op := s.logger.StartOp(ctx, "reconcile")

	if err := s.locker.Acquire(); err != nil {
		op.Fail(err, "")
		return nil, err
	}
	defer s.locker.Release()

	id, err := syncer.LoadIdentity(s.cfg, s.keys)
	if err != nil {
		op.Fail(err, "")
		return nil, err
	}

	report, err := s.reconcileReport(ctx, opID, id)
	if err != nil {
		op.Fail(err, "")
		return nil, err
	}

	if err := s.applyLocked(ctx, opID); err != nil {
		op.Fail(err, "artifacts rebuilt but interface reload failed, run apply to retry")
		return nil, err
	}

	op.Complete("reconciled", "peers", report.PeerCount, "regenerated", report.Regenerated)
	return report, nil
}

// Apply reloads the interface from the on-disk config without touching any
// artifact, for retrying after a reload-stage failure.
func (s *Service) Apply(ctx context.Context) error {
	opID := uuid.NewString()
	ctx = logger.WithOperationID(ctx, opID)
	op := s.logger.StartOp(ctx, "apply")

	if err := s.applyLocked(ctx, opID); err != nil {
		op.Fail(err, "")
		return err
	}
	op.Complete("interface reloaded")
	return nil
}

// reconcileLocked rebuilds the artifacts assuming the caller holds the lock.
func (s *Service) reconcileLocked(ctx context.Context, opID string, id syncer.ServerIdentity) error {
	_, err := s.reconcileReport(ctx, opID, id)
	return err
}

func (s *Service) reconcileReport(ctx context.Context, opID string, id syncer.ServerIdentity) (*ReconcileReport, error) {
	peers, err := s.registry.List()
	if err != nil {
		return nil, err
	}

	regenerated := 0
	materials := make([]syncer.PeerMaterial, 0, len(peers))
	for _, p := range peers {
		address, err := s.allocator.AddressFor(p.HostOffset)
		if err != nil {
			return nil, err
		}

		priv, pub, err := s.keys.Read(p.Username)
		if err != nil {
			kp, genErr := s.keygen.GenerateKeyPair()
			if genErr != nil {
				return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeKeyGenFailed,
					"failed to regenerate peer key pair", false, genErr).
					WithMetadata("username", p.Username)
			}
			priv, pub = kp.PrivateKey, kp.PublicKey
			regenerated++
			s.logger.WarnContext(ctx, "regenerated missing key material", "username", p.Username)
		}

		materials = append(materials, syncer.PeerMaterial{
			Peer:       p,
			Address:    address,
			PrivateKey: priv,
			PublicKey:  pub,
		})
	}

	if err := s.sync.Reconcile(materials, id); err != nil {
		return nil, err
	}

	s.bus.PublishConfigReconciled(opID, len(peers), regenerated)
	return &ReconcileReport{PeerCount: len(peers), Regenerated: regenerated}, nil
}

func (s *Service) applyLocked(ctx context.Context, opID string) error {
	res, err := s.reloader.Apply(ctx)
	if err != nil {
		s.bus.PublishInterfaceApplyFailed(opID, s.cfg.InterfaceName, err)
		return err
	}
	s.bus.PublishInterfaceApplied(opID, s.cfg.InterfaceName, string(res.Mode), res.Duration)
	return nil
}
