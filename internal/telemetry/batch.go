package telemetry

import (
	"fmt"
	"time"
)

// Batch holds the normalized records of one domain. Only the slice matching
// Domain is populated.
type Batch struct {
	Domain   Domain
	Login    []LoginRecord
	Firewall []FirewallRecord
	Patch    []PatchRecord
}

// Normalize dispatches raw input to the domain's normalizer.
func Normalize(raw any, domain Domain, now time.Time) (Batch, error) {
	b := Batch{Domain: domain}
	var err error
	switch domain {
	case DomainLogin:
		b.Login, err = NormalizeLogin(raw, now)
	case DomainFirewall:
		b.Firewall, err = NormalizeFirewall(raw, now)
	case DomainPatch:
		b.Patch, err = NormalizePatch(raw)
	default:
		return b, fmt.Errorf("normalize: unknown domain %q", domain)
	}
	return b, err
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Login) + len(b.Firewall) + len(b.Patch)
}

// Events flattens every record for rule evaluation.
func (b Batch) Events() []map[string]interface{} {
	events := make([]map[string]interface{}, 0, b.Len())
	for _, r := range b.Login {
		events = append(events, r.Event())
	}
	for _, r := range b.Firewall {
		events = append(events, r.Event())
	}
	for _, r := range b.Patch {
		events = append(events, r.Event())
	}
	return events
}
