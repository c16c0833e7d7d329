package model

import (
	"net/mail"
	"strings"
)

// NormalizeAddress reduces "Name <User@Host>" to "user@host"
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	return strings.ToLower(addr)
}

// NormalizeDomain lower-cases a domain and drops a leading "@"
func NormalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
}

// NormalizeKeyword lower-cases and trims a case keyword
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// DomainOf returns the normalized domain part of an address
func DomainOf(addr string) string {
	addr = NormalizeAddress(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return NormalizeDomain(addr[at+1:])
}

func normalizeList(values []string, norm func(string) string) []string {
	if values == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
