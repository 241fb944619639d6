package network

import (
	"context"
	"net"
)

type DNSResolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

type NetDNSResolver struct {
	resolver *net.Resolver
}

func NewNetDNSResolver() *NetDNSResolver {
	return &NetDNSResolver{resolver: net.DefaultResolver}
}

func (r *NetDNSResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	return r.resolver.LookupTXT(ctx, domain)
}
