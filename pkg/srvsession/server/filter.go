package server

import (
	"fmt"
	"net"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
)

// PeerFilter rejects clients whose address falls in a blocked network.
type PeerFilter struct {
	blockedNets []*net.IPNet
}

// NewPeerFilter parses blockedCIDRs into a filter.
func NewPeerFilter(blockedCIDRs []string) (*PeerFilter, error) {
	f := &PeerFilter{
		blockedNets: make([]*net.IPNet, 0, len(blockedCIDRs)),
	}

	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR block %q: %w", cidr, err)
		}
		f.blockedNets = append(f.blockedNets, ipNet)
	}

	return f, nil
}

// IsAllowed returns nil when ip may connect.
func (f *PeerFilter) IsAllowed(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("invalid peer address %q", ip)
	}

	for _, ipNet := range f.blockedNets {
		if ipNet.Contains(parsed) {
			return fmt.Errorf("%w: %s in %s", common.ErrPeerBlocked, ip, ipNet)
		}
	}
	return nil
}
