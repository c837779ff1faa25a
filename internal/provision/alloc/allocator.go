// Package alloc assigns peer addresses inside the tunnel subnet. The
// allocator carries no state of its own: the in-use set is derived from the
// live registry on every call, so releasing an address is implicit in
// removing its peer.
package alloc

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// Allocator selects free host offsets within a fixed IPv4 subnet.
type Allocator struct {
	subnet       *net.IPNet
	serverOffset int
	maxOffset    int
}

// New creates an allocator for the given subnet. serverOffset is the host
// part reserved for the server itself and is never handed out.
func New(subnet *net.IPNet, serverOffset int) (*Allocator, error) {
	if subnet == nil || subnet.IP.To4() == nil {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeInvalidCIDR,
			"subnet must be an IPv4 network", false, nil)
	}

	ones, bits := subnet.Mask.Size()
	hostBits := bits - ones
	if hostBits < 2 {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeInvalidCIDR,
			fmt.Sprintf("subnet %s has no usable host addresses", subnet), false, nil)
	}

	// Host offsets run from 1 to the address just below broadcast.
	maxOffset := (1 << hostBits) - 2

	if serverOffset < 1 || serverOffset > maxOffset {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeInvalidAddress,
			fmt.Sprintf("server offset %d is outside subnet %s", serverOffset, subnet), false, nil)
	}

	return &Allocator{
		subnet:       subnet,
		serverOffset: serverOffset,
		maxOffset:    maxOffset,
	}, nil
}

// Capacity returns how many peer addresses the subnet can hold.
func (a *Allocator) Capacity() int {
	return a.maxOffset - 1 // minus the server's reserved offset
}

// MaxOffset returns the highest usable host offset.
func (a *Allocator) MaxOffset() int {
	return a.maxOffset
}

// ServerOffset returns the reserved server host offset.
func (a *Allocator) ServerOffset() int {
	return a.serverOffset
}

// Allocate returns the smallest host offset not present in used and not
// reserved for the server. Allocation is deterministic for a given used set.
// Returns subnet_exhausted when every offset is taken.
func (a *Allocator) Allocate(used []int) (int, error) {
	taken := make(map[int]bool, len(used)+1)
	taken[a.serverOffset] = true
	for _, off := range used {
		taken[off] = true
	}

	for off := 1; off <= a.maxOffset; off++ {
		if !taken[off] {
			return off, nil
		}
	}

	return 0, sharedErrors.ErrSubnetExhausted.
		WithMetadata("subnet", a.subnet.String()).
		WithMetadata("capacity", a.Capacity())
}

// Contains reports whether the offset lies in the usable host range.
func (a *Allocator) Contains(offset int) bool {
	return offset >= 1 && offset <= a.maxOffset && offset != a.serverOffset
}

// AddressFor computes the concrete address for a host offset.
func (a *Allocator) AddressFor(offset int) (net.IP, error) {
	if offset < 1 || offset > a.maxOffset {
		return nil, sharedErrors.NewPeerError(sharedErrors.ErrCodeInvalidAddress,
			fmt.Sprintf("host offset %d is outside subnet %s", offset, a.subnet), false, nil)
	}

	base := binary.BigEndian.Uint32(a.subnet.IP.To4())
	addr := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(addr, base+uint32(offset))
	return addr, nil
}

// ServerAddress returns the server's own address in the subnet.
func (a *Allocator) ServerAddress() net.IP {
	addr, _ := a.AddressFor(a.serverOffset)
	return addr
}

// UsedOffsets extracts a sorted copy of the offsets in use, handy for logs.
func UsedOffsets(used []int) []int {
	out := make([]int, len(used))
	copy(out, used)
	sort.Ints(out)
	return out
}
