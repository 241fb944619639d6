package network

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"terralink/internal/config"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Resolver turns configured init connections into dial targets.
type Resolver interface {
	Resolve(ctx context.Context) ([]ma.Multiaddr, error)
}

type ConfigResolver struct {
	selfID      peer.ID
	connections []config.Connection
	dns         DNSResolver
}

func NewConfigResolver(selfID peer.ID, connections []config.Connection, dns DNSResolver) *ConfigResolver {
	return &ConfigResolver{
		selfID:      selfID,
		connections: connections,
		dns:         dns,
	}
}

// Resolve returns one address per distinct peer, skipping ourselves. Partial
// failures are joined into the error alongside whatever did resolve.
func (r *ConfigResolver) Resolve(ctx context.Context) ([]ma.Multiaddr, error) {
	targets := make([]ma.Multiaddr, 0, len(r.connections))
	seen := make(map[peer.ID]struct{})
	var errs []error

	add := func(addr ma.Multiaddr, info *peer.AddrInfo) {
		if info.ID == r.selfID {
			return
		}
		if _, ok := seen[info.ID]; ok {
			return
		}
		seen[info.ID] = struct{}{}
		targets = append(targets, addr)
	}

	for _, conn := range r.connections {
		switch conn.Type {
		case "dns":
			records, err := r.dns.LookupTXT(ctx, conn.Address)
			if err != nil {
				errs = append(errs, fmt.Errorf("dns %s query failed: %w", conn.Address, err))
				continue
			}
			parsed := 0
			for _, record := range records {
				addr, info, err := ParseP2PAddr(strings.TrimPrefix(record, "dnsaddr="))
				if err != nil {
					continue
				}
				parsed++
				add(addr, info)
			}
			if len(records) > 0 && parsed == 0 {
				errs = append(errs, fmt.Errorf("dns %s: no TXT record holds a /p2p/ multiaddr", conn.Address))
			}
		case "multiaddr":
			addr, info, err := ParseP2PAddr(conn.Address)
			if err != nil {
				errs = append(errs, fmt.Errorf("multiaddr %s parse failed: %w", conn.Address, err))
				continue
			}
			add(addr, info)
		default:
			continue
		}
	}

	return targets, errors.Join(errs...)
}

func ParseP2PAddr(multiAddrStr string) (ma.Multiaddr, *peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(strings.TrimSpace(multiAddrStr))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse multiaddr %s: %w", multiAddrStr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert to peer address: %w", err)
	}

	return addr, info, nil
}
