package syncer

import (
	"fmt"
	"net"

	"github.com/arvelin/wg-provision/internal/provision/alloc"
	"github.com/arvelin/wg-provision/internal/provision/config"
	"github.com/arvelin/wg-provision/internal/provision/keystore"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/crypto"
)

// ServerIdentity is the immutable server side of every projection: its
// keypair, tunnel address, and the public connection parameters clients use.
// InterfaceConfig and every client profile are derivable from this plus the
// registry.
type ServerIdentity struct {
	PrivateKey    string
	PublicKey     string
	Address       net.IP
	PrefixLen     int
	InterfaceName string
	ListenPort    int
	EndpointHost  string
	DNS           string
	KeepaliveSec  int
	NATInterface  string
}

// LoadIdentity reconstructs the server identity from configuration and the
// key material on disk. The public half is rederived from the private key, so
// a stale or missing .pub file never poisons the artifacts.
func LoadIdentity(cfg *config.Config, keys *keystore.Store) (ServerIdentity, error) {
	priv, _, err := keys.Read(keystore.ServerKeyName)
	if err != nil {
		return ServerIdentity{}, sharedErrors.NewSystemError(sharedErrors.ErrCodeConfiguration,
			"server key material missing, run install first", false, err)
	}

	pub, err := crypto.DerivePublicKey(priv)
	if err != nil {
		return ServerIdentity{}, sharedErrors.NewSystemError(sharedErrors.ErrCodeConfiguration,
			"server private key is corrupt", false, err)
	}

	subnet, err := cfg.Subnet()
	if err != nil {
		return ServerIdentity{}, sharedErrors.NewSystemError(sharedErrors.ErrCodeConfiguration,
			"invalid subnet configuration", false, err)
	}

	allocator, err := alloc.New(subnet, cfg.ServerHostOffset)
	if err != nil {
		return ServerIdentity{}, sharedErrors.NewSystemError(sharedErrors.ErrCodeConfiguration,
			"invalid address plan", false, err)
	}

	prefixLen, _ := subnet.Mask.Size()
	return ServerIdentity{
		PrivateKey:    priv,
		PublicKey:     pub,
		Address:       allocator.ServerAddress(),
		PrefixLen:     prefixLen,
		InterfaceName: cfg.InterfaceName,
		ListenPort:    cfg.ListenPort,
		EndpointHost:  cfg.EndpointHost,
		DNS:           cfg.DNS,
		KeepaliveSec:  cfg.KeepaliveSec,
		NATInterface:  cfg.NATInterface,
	}, nil
}

// Endpoint returns the host:port clients connect to.
func (id ServerIdentity) Endpoint() string {
	return net.JoinHostPort(id.EndpointHost, fmt.Sprintf("%d", id.ListenPort))
}

// InterfaceAddress returns the server's tunnel address in CIDR form.
func (id ServerIdentity) InterfaceAddress() string {
	return fmt.Sprintf("%s/%d", id.Address, id.PrefixLen)
}

// PostUp returns the NAT and forwarding rules installed when the interface
// comes up.
func (id ServerIdentity) PostUp() []string {
	return []string{
		fmt.Sprintf("iptables -A FORWARD -i %s -j ACCEPT", id.InterfaceName),
		fmt.Sprintf("iptables -t nat -A POSTROUTING -o %s -j MASQUERADE", id.NATInterface),
	}
}

// PostDown returns the rules removed when the interface goes down.
func (id ServerIdentity) PostDown() []string {
	return []string{
		fmt.Sprintf("iptables -D FORWARD -i %s -j ACCEPT", id.InterfaceName),
		fmt.Sprintf("iptables -t nat -D POSTROUTING -o %s -j MASQUERADE", id.NATInterface),
	}
}
