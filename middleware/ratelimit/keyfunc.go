package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/phemmer/go-iptrie"
)

// KeyFunc deriva a identidade do cliente contra a qual a requisição é contada.
type KeyFunc func(r *http.Request) string

type KeyOptions struct {
	// Header, se definido e presente na requisição, vence qualquer endereço.
	Header string
	// TrustXForwardedFor pega o primeiro IP do X-Forwarded-For (cliente original).
	TrustXForwardedFor bool
	// TrustedProxies restringe a confiança no XFF a peers dentro desses prefixos.
	// Vazio: qualquer peer é confiável quando TrustXForwardedFor está ligado.
	TrustedProxies []netip.Prefix
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return NewKeyFunc(KeyOptions{Header: keyHeader, TrustXForwardedFor: trustXFF})
}

func NewKeyFunc(opts KeyOptions) KeyFunc {
	var proxies *iptrie.Trie
	if len(opts.TrustedProxies) > 0 {
		proxies = iptrie.NewTrie()
		for _, p := range opts.TrustedProxies {
			proxies.Insert(p.Masked(), true)
		}
	}

	return func(r *http.Request) string {
		if opts.Header != "" {
			if v := strings.TrimSpace(r.Header.Get(opts.Header)); v != "" {
				return v
			}
		}

		peer := remoteHost(r.RemoteAddr)

		if opts.TrustXForwardedFor && trustedPeer(proxies, peer) {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		if peer != "" {
			return peer
		}
		return "unknown"
	}
}

func remoteHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return remoteAddr
}

func trustedPeer(proxies *iptrie.Trie, peer string) bool {
	if proxies == nil {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	return proxies.Find(addr.Unmap()) != nil
}

// ParsePrefixes aceita CIDRs ou endereços soltos (tratados como /32 ou /128).
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}
