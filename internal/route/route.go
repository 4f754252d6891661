// Package route implements the longest-prefix-match table used by the
// Collector to resolve a next-hop address for each outgoing packet.
package route

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// Route is one routing table entry.
type Route struct {
	Destination uint32 // network byte order, host-significant for comparisons
	MaskLen     int    // prefix length, 0-32
	NextHop     string
	Metric      int
}

func (r Route) mask() uint32 {
	if r.MaskLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - r.MaskLen)
}

// Table is a sorted, longest-prefix-match routing table. Safe for
// concurrent use.
type Table struct {
	mu     sync.RWMutex
	routes []Route
}

// New constructs an empty Table.
func New() *Table {
	return &Table{}
}

// Add inserts a route, parsing destination as a dotted-decimal IPv4
// address. The table stays sorted by mask length (longest first), then
// by metric (lowest first) as a tiebreak.
func (t *Table) Add(destination string, maskLen int, nextHop string, metric int) error {
	ip := net.ParseIP(destination)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("route: invalid destination address %q", destination)
	}
	if maskLen < 0 || maskLen > 32 {
		return fmt.Errorf("route: invalid mask length %d", maskLen)
	}
	r := Route{Destination: ipToUint32(ip.To4()), MaskLen: maskLen, NextHop: nextHop, Metric: metric}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, r)
	sort.SliceStable(t.routes, func(i, j int) bool {
		if t.routes[i].MaskLen != t.routes[j].MaskLen {
			return t.routes[i].MaskLen > t.routes[j].MaskLen
		}
		return t.routes[i].Metric < t.routes[j].Metric
	})
	return nil
}

// LongestPrefixMatch returns the next-hop address for dst (network byte
// order, as produced by netmsg.NetworkMessage.DstIP), or "" when no route
// matches.
func (t *Table) LongestPrefixMatch(dst uint32) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if dst&r.mask() == r.Destination&r.mask() {
			return r.NextHop
		}
	}
	return ""
}

// Size returns the number of routes currently in the table.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
