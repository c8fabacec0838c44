package crawler

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"
	"time"

	"brokenLinkAnalyzerGO/internal/metrics"
)

var errBlockedAddress = errors.New("crawler refuses to connect to a non-public address")

// blockedRange labels a network the crawler must never reach in production.
type blockedRange struct {
	prefix netip.Prefix
	reason string
}

func blocked(cidr, reason string) blockedRange {
	return blockedRange{prefix: netip.MustParsePrefix(cidr), reason: reason}
}

// blockedRanges is checked in order, so the narrower special-use blocks sit
// ahead of the ranges that contain them.
var blockedRanges = []blockedRange{
	blocked("0.0.0.0/8", "unspecified"),
	blocked("10.0.0.0/8", "private"),
	blocked("100.64.0.0/10", "cgnat"),
	blocked("127.0.0.0/8", "loopback"),
	blocked("169.254.0.0/16", "link_local"),
	blocked("172.16.0.0/12", "private"),
	blocked("192.0.0.0/24", "reserved"),
	blocked("192.0.2.0/24", "documentation"),
	blocked("192.168.0.0/16", "private"),
	blocked("198.18.0.0/15", "benchmark"),
	blocked("198.51.100.0/24", "documentation"),
	blocked("203.0.113.0/24", "documentation"),
	blocked("224.0.0.0/4", "multicast"),
	blocked("240.0.0.0/4", "reserved"),
	blocked("::/128", "unspecified"),
	blocked("::1/128", "loopback"),
	blocked("2001:db8::/32", "documentation"),
	blocked("fc00::/7", "private"),
	blocked("fe80::/10", "link_local"),
	blocked("ff00::/8", "multicast"),
}

// blockReason reports why addr may not be crawled. IPv4-mapped IPv6
// addresses are judged by their IPv4 form.
func blockReason(addr netip.Addr) (string, bool) {
	addr = addr.Unmap()
	for _, r := range blockedRanges {
		if r.prefix.Contains(addr) {
			return r.reason, true
		}
	}
	if !addr.IsGlobalUnicast() {
		return "reserved", true
	}
	return "", false
}

// dialGuard vets every resolved address before a socket connects, which
// also catches public names that resolve to internal hosts.
type dialGuard struct {
	logger *slog.Logger
}

func newGuardedDialer(logger *slog.Logger) *net.Dialer {
	g := &dialGuard{logger: logger}
	return &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.control,
	}
}

func (g *dialGuard) control(network, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		g.refuse(network, address, "unparseable")
		return fmt.Errorf("%w: %w", errBlockedAddress, err)
	}

	if reason, ok := blockReason(addrPort.Addr()); ok {
		g.refuse(network, address, reason)
		return fmt.Errorf("%w: %s is %s", errBlockedAddress, addrPort.Addr(), reason)
	}
	return nil
}

func (g *dialGuard) refuse(network, address, reason string) {
	metrics.BlockedDials.WithLabelValues(reason).Inc()
	g.logger.Warn("Refused crawler connection", "network", network, "address", address, "reason", reason)
}
