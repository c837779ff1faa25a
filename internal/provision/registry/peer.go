// Package registry implements the durable peer registry. The registry file is
// the single authoritative record of peers: the interface config and client
// profiles are projections that can always be rebuilt from it.
package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// Peer is one provisioned VPN client identity as recorded in the registry.
// HostOffset is the host part of the peer's address within the subnet; the
// full address is derived from the configured subnet base.
type Peer struct {
	Username              string
	HostOffset            int
	DataLimitGB           *float64
	MonthlyTrafficLimitGB *float64

	// CreatedAt is informational only and not persisted in the registry
	// line; it is recovered from key material timestamps where needed.
	CreatedAt time.Time
}

// usernamePattern restricts usernames to names that are safe as file name
// stems and registry line fields.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,31}$`)

// ValidateUsername checks a username against the registry naming rules.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation, "username cannot be empty", false, nil)
	}
	if !usernamePattern.MatchString(username) {
		return sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
			"username must be 1-32 characters of letters, digits, '_', '.', '-'", false, nil).
			WithMetadata("username", username)
	}
	return nil
}

// Validate checks the full peer record.
func (p *Peer) Validate() error {
	if err := ValidateUsername(p.Username); err != nil {
		return err
	}
	if p.HostOffset < 1 {
		return sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
			fmt.Sprintf("host offset %d is not a usable address", p.HostOffset), false, nil).
			WithMetadata("username", p.Username)
	}
	for _, limit := range []*float64{p.DataLimitGB, p.MonthlyTrafficLimitGB} {
		if limit != nil && *limit < 0 {
			return sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
				"limits must not be negative", false, nil).
				WithMetadata("username", p.Username)
		}
	}
	return nil
}

// MarshalLine renders the peer as a registry line:
// username,addressHostPart,dataLimitGB,monthlyTrafficLimitGB.
// An empty limit field means unlimited.
func (p *Peer) MarshalLine() string {
	return strings.Join([]string{
		p.Username,
		strconv.Itoa(p.HostOffset),
		FormatLimit(p.DataLimitGB),
		FormatLimit(p.MonthlyTrafficLimitGB),
	}, ",")
}

// ParseLine parses one registry line into a Peer.
func ParseLine(line string) (Peer, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Peer{}, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryCorrupt,
			fmt.Sprintf("expected 4 fields, got %d", len(fields)), false, nil).
			WithMetadata("line", line)
	}

	offset, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return Peer{}, sharedErrors.NewRegistryError(sharedErrors.ErrCodeRegistryCorrupt,
			fmt.Sprintf("invalid address host part %q", fields[1]), false, err).
			WithMetadata("line", line)
	}

	dataLimit, err := ParseLimit(fields[2])
	if err != nil {
		return Peer{}, err
	}
	monthlyLimit, err := ParseLimit(fields[3])
	if err != nil {
		return Peer{}, err
	}

	peer := Peer{
		Username:              strings.TrimSpace(fields[0]),
		HostOffset:            offset,
		DataLimitGB:           dataLimit,
		MonthlyTrafficLimitGB: monthlyLimit,
	}
	if err := peer.Validate(); err != nil {
		return Peer{}, err
	}
	return peer, nil
}

// FormatLimit renders an optional GB limit as a registry field.
func FormatLimit(limit *float64) string {
	if limit == nil {
		return ""
	}
	return strconv.FormatFloat(*limit, 'f', -1, 64)
}

// ParseLimit parses an optional GB limit field. Empty means unlimited.
func ParseLimit(field string) (*float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
			fmt.Sprintf("invalid limit %q", field), false, err)
	}
	if value < 0 {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeValidation,
			"limits must not be negative", false, nil)
	}
	return &value, nil
}
