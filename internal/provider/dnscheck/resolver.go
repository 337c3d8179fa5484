// Package dnscheck implements the direct-DNS resolver contract by querying a
// public resolver, bypassing both the OS stub resolver and the DNS provider's
// own view.
package dnscheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/provider"

	"github.com/miekg/dns"
)

type Resolver struct {
	server string
	client *dns.Client
}

var _ provider.DNSResolver = (*Resolver)(nil)

// New builds a resolver against the given server ("host" or "host:port").
func New(server string, timeout time.Duration) *Resolver {
	if server == "" {
		server = "1.1.1.1"
	}
	if !strings.Contains(server, ":") {
		server += ":53"
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}
}

func (r *Resolver) CheckRecord(ctx context.Context, rec domain.DNSRecord) (provider.CheckResult, error) {
	qtype, ok := queryType(rec.Type)
	if !ok {
		return provider.CheckResult{}, fmt.Errorf("unsupported record type %q", rec.Type)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(rec.Name), qtype)
	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return provider.CheckResult{}, fmt.Errorf("query %s %s: %w", rec.Type, rec.Name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		// NXDOMAIN and friends mean not visible yet, not a resolver failure.
		return provider.CheckResult{}, nil
	}
	return evaluate(rec, resp.Answer), nil
}

// evaluate matches answer records against the expected one.
func evaluate(rec domain.DNSRecord, answers []dns.RR) provider.CheckResult {
	var res provider.CheckResult
	for _, rr := range answers {
		actual, pref, ok := extract(rec.Type, rr)
		if !ok {
			continue
		}
		res.Found = true
		if res.ActualValue == "" {
			res.ActualValue = actual
		}
		if matches(rec, actual, pref) {
			res.ActualValue = actual
			res.Verified = true
		}
	}
	return res
}

// extract pulls the comparable value out of an answer record of the expected
// type. Hostname values are case-folded with the trailing dot removed.
func extract(recType string, rr dns.RR) (value string, pref uint16, ok bool) {
	switch v := rr.(type) {
	case *dns.CNAME:
		if !strings.EqualFold(recType, "CNAME") {
			return "", 0, false
		}
		return normalizeHost(v.Target), 0, true
	case *dns.TXT:
		if !strings.EqualFold(recType, "TXT") {
			return "", 0, false
		}
		return strings.Join(v.Txt, ""), 0, true
	case *dns.MX:
		if !strings.EqualFold(recType, "MX") {
			return "", 0, false
		}
		return normalizeHost(v.Mx), v.Preference, true
	}
	return "", 0, false
}

func matches(rec domain.DNSRecord, actual string, pref uint16) bool {
	switch strings.ToUpper(rec.Type) {
	case "CNAME":
		return normalizeHost(rec.Value) == actual
	case "MX":
		if normalizeHost(rec.Value) != actual {
			return false
		}
		return rec.Priority == nil || *rec.Priority == pref
	default:
		return rec.Value == actual
	}
}

func normalizeHost(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

func queryType(t string) (uint16, bool) {
	switch strings.ToUpper(t) {
	case "CNAME":
		return dns.TypeCNAME, true
	case "TXT":
		return dns.TypeTXT, true
	case "MX":
		return dns.TypeMX, true
	}
	return 0, false
}
