// Package telemetry reshapes raw security telemetry into canonical per-domain records.
//
// Each domain (login, firewall, patch) accepts records whose field names vary by
// source. Aliases are resolved through a fixed, ordered list per canonical
// attribute: the first alias holding a non-empty value wins.
package telemetry

import (
	"fmt"
	"strings"
)

// Domain identifies one class of security telemetry.
type Domain string

const (
	DomainLogin    Domain = "login"
	DomainFirewall Domain = "firewall"
	DomainPatch    Domain = "patch"
)

// Domains returns all domains in their fixed reporting order.
func Domains() []Domain {
	return []Domain{DomainLogin, DomainFirewall, DomainPatch}
}

// ParseDomain resolves a domain name case-insensitively.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DomainLogin, DomainFirewall, DomainPatch:
		return d, nil
	}
	return "", fmt.Errorf("unknown domain %q (want login, firewall or patch)", s)
}

// Title returns the display label used in reports ("Login Analysis").
func (d Domain) Title() string {
	switch d {
	case DomainLogin:
		return "Login Analysis"
	case DomainFirewall:
		return "Firewall Analysis"
	case DomainPatch:
		return "Patch Analysis"
	}
	return string(d)
}

// RawRecord is one source event or system description with arbitrary field names.
type RawRecord map[string]any

// ValidationError reports a record that lacks a mandatory field.
// Index is the position of the offending record in the input sequence,
// or -1 when the input as a whole is unusable.
type ValidationError struct {
	Domain Domain
	Index  int
	Field  string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s input: missing %s", e.Domain, e.Field)
	}
	return fmt.Sprintf("%s record %d: missing mandatory field %s", e.Domain, e.Index, e.Field)
}
