// Package dnspub implements the DNS-publisher contract on Cloudflare.
package dnspub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/provider"

	cloudflare "github.com/cloudflare/cloudflare-go"
)

type Config struct {
	APIToken string
	// Zone pins all records to one zone. Empty means the zone is derived from
	// each record name by suffix lookup.
	Zone        string
	CallTimeout time.Duration
}

type Publisher struct {
	api         *cloudflare.API
	zone        string
	callTimeout time.Duration

	mu      sync.Mutex
	zoneIDs map[string]string
}

var _ provider.DNSPublisher = (*Publisher)(nil)

func New(cfg Config) (*Publisher, error) {
	api, err := cloudflare.NewWithAPIToken(cfg.APIToken)
	if err != nil {
		return nil, fmt.Errorf("cloudflare client: %w", err)
	}
	return &Publisher{
		api:         api,
		zone:        cfg.Zone,
		callTimeout: cfg.CallTimeout,
		zoneIDs:     map[string]string{},
	}, nil
}

// CreateRecord publishes one record, unproxied. A record that already exists
// with the same settings counts as published.
func (p *Publisher) CreateRecord(ctx context.Context, rec domain.DNSRecord) error {
	zoneID, err := p.zoneIDFor(rec.Name)
	if err != nil {
		return err
	}

	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	ttl := rec.TTL
	if ttl == 0 {
		ttl = 1 // automatic
	}
	params := cloudflare.CreateDNSRecordParams{
		Type:    rec.Type,
		Name:    rec.Name,
		Content: rec.Value,
		TTL:     ttl,
		Proxied: cloudflare.BoolPtr(false),
	}
	if rec.Priority != nil {
		params.Priority = rec.Priority
	}

	_, err = p.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create %s %s: %w", rec.Type, rec.Name, err)
	}
	return nil
}

// zoneIDFor resolves the enclosing zone for a record name, longest suffix
// first, and caches hits. Record names live under the zone apex, so probing
// suffixes finds the registered zone without public-suffix knowledge.
func (p *Publisher) zoneIDFor(recordName string) (string, error) {
	candidates := []string{p.zone}
	if p.zone == "" {
		labels := strings.Split(strings.TrimSuffix(recordName, "."), ".")
		for i := 0; i < len(labels)-1; i++ {
			candidates = append(candidates, strings.Join(labels[i:], "."))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range candidates {
		if id, ok := p.zoneIDs[name]; ok {
			return id, nil
		}
	}
	for _, name := range candidates {
		id, err := p.api.ZoneIDByName(name)
		if err != nil {
			continue
		}
		p.zoneIDs[name] = id
		return id, nil
	}
	return "", fmt.Errorf("no cloudflare zone found for %s", recordName)
}
