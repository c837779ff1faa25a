package wgconf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// ParseFile reads and parses a config file.
func ParseFile(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to open interface config", false, err).WithMetadata("path", path)
	}
	defer f.Close()

	dev, err := Parse(f)
	if err != nil {
		return nil, sharedErrors.WrapWithDomain(err, sharedErrors.DomainSync,
			sharedErrors.ErrCodeConfigParse,
			fmt.Sprintf("failed to parse %s", path), false)
	}
	return dev, nil
}

// ParseString parses config text.
func ParseString(content string) (*Device, error) {
	return Parse(strings.NewReader(content))
}

type section int

const (
	sectionNone section = iota
	sectionInterface
	sectionPeer
)

// Parse reads an INI config into typed sections. Blank lines are not
// significant; a comment directly above a [Peer] header is kept as the peer's
// name marker, any other comments are dropped from the model.
func Parse(r io.Reader) (*Device, error) {
	dev := &Device{}
	current := sectionNone
	var peer *Peer
	var pendingComment string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			pendingComment = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			continue
		}

		switch {
		case strings.EqualFold(line, "[Interface]"):
			current = sectionInterface
			peer = nil
			pendingComment = ""
			continue
		case strings.EqualFold(line, "[Peer]"):
			dev.Peers = append(dev.Peers, Peer{Name: pendingComment})
			peer = &dev.Peers[len(dev.Peers)-1]
			current = sectionPeer
			pendingComment = ""
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: %q is not a key = value pair", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		pendingComment = ""

		switch current {
		case sectionInterface:
			if err := parseInterfaceField(&dev.Interface, key, value); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		case sectionPeer:
			if err := parsePeerField(peer, key, value); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		default:
			return nil, fmt.Errorf("line %d: %q appears before any section header", lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return dev, nil
}

func parseInterfaceField(iface *Interface, key, value string) error {
	switch key {
	case "PrivateKey":
		iface.PrivateKey = value
	case "Address":
		iface.Address = value
	case "ListenPort":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ListenPort %q: %w", value, err)
		}
		iface.ListenPort = port
	case "DNS":
		iface.DNS = value
	case "PostUp":
		iface.PostUp = append(iface.PostUp, value)
	case "PostDown":
		iface.PostDown = append(iface.PostDown, value)
	default:
		// Settings we do not manage survive the round trip untouched.
		iface.Extra = append(iface.Extra, key+" = "+value)
	}
	return nil
}

func parsePeerField(peer *Peer, key, value string) error {
	if peer == nil {
		return fmt.Errorf("peer field %q outside a [Peer] section", key)
	}
	switch key {
	case "PublicKey":
		peer.PublicKey = value
	case "AllowedIPs":
		peer.AllowedIPs = value
	case "Endpoint":
		peer.Endpoint = value
	case "PersistentKeepalive":
		keepalive, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PersistentKeepalive %q: %w", value, err)
		}
		peer.PersistentKeepalive = keepalive
	default:
		peer.Extra = append(peer.Extra, key+" = "+value)
	}
	return nil
}
