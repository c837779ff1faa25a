// Package wgconf models WireGuard INI configs as typed sections. Mutations
// happen on the in-memory section list and are keyed by public key, never by
// line position, so removing one peer can never disturb another.
package wgconf

import (
	"strconv"
	"strings"
)

// Device is a full config file: one [Interface] section followed by zero or
// more [Peer] sections.
type Device struct {
	Interface Interface
	Peers     []Peer
}

// Interface is the [Interface] section. Fields not modeled explicitly are
// preserved verbatim in Extra so a rewrite keeps settings we do not manage.
type Interface struct {
	PrivateKey string
	Address    string
	ListenPort int
	DNS        string
	PostUp     []string
	PostDown   []string
	Extra      []string
}

// Peer is one [Peer] section. Name carries the `# name` marker comment above
// the section header when present; it is informational, identity is always
// the public key.
type Peer struct {
	Name                string
	PublicKey           string
	AllowedIPs          string
	Endpoint            string
	PersistentKeepalive int
	Extra               []string
}

// FindPeer returns the peer section with the given public key, or nil.
func (d *Device) FindPeer(publicKey string) *Peer {
	for i := range d.Peers {
		if d.Peers[i].PublicKey == publicKey {
			return &d.Peers[i]
		}
	}
	return nil
}

// AppendPeer adds a peer section at the end of the file.
func (d *Device) AppendPeer(p Peer) {
	d.Peers = append(d.Peers, p)
}

// RemovePeer deletes the peer section whose public key matches and reports
// whether a section was removed. All other sections are left untouched.
func (d *Device) RemovePeer(publicKey string) bool {
	for i := range d.Peers {
		if d.Peers[i].PublicKey == publicKey {
			d.Peers = append(d.Peers[:i], d.Peers[i+1:]...)
			return true
		}
	}
	return false
}

// Render serializes the device back to INI text.
func (d *Device) Render() string {
	var sb strings.Builder

	sb.WriteString("[Interface]\n")
	if d.Interface.PrivateKey != "" {
		sb.WriteString("PrivateKey = " + d.Interface.PrivateKey + "\n")
	}
	if d.Interface.Address != "" {
		sb.WriteString("Address = " + d.Interface.Address + "\n")
	}
	if d.Interface.ListenPort > 0 {
		sb.WriteString("ListenPort = " + strconv.Itoa(d.Interface.ListenPort) + "\n")
	}
	if d.Interface.DNS != "" {
		sb.WriteString("DNS = " + d.Interface.DNS + "\n")
	}
	for _, cmd := range d.Interface.PostUp {
		sb.WriteString("PostUp = " + cmd + "\n")
	}
	for _, cmd := range d.Interface.PostDown {
		sb.WriteString("PostDown = " + cmd + "\n")
	}
	for _, line := range d.Interface.Extra {
		sb.WriteString(line + "\n")
	}

	for _, p := range d.Peers {
		sb.WriteString("\n")
		if p.Name != "" {
			sb.WriteString("# " + p.Name + "\n")
		}
		sb.WriteString("[Peer]\n")
		sb.WriteString("PublicKey = " + p.PublicKey + "\n")
		if p.AllowedIPs != "" {
			sb.WriteString("AllowedIPs = " + p.AllowedIPs + "\n")
		}
		if p.Endpoint != "" {
			sb.WriteString("Endpoint = " + p.Endpoint + "\n")
		}
		if p.PersistentKeepalive > 0 {
			sb.WriteString("PersistentKeepalive = " + strconv.Itoa(p.PersistentKeepalive) + "\n")
		}
		for _, line := range p.Extra {
			sb.WriteString(line + "\n")
		}
	}

	return sb.String()
}
