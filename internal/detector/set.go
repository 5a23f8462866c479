package detector

import (
	"fmt"
	"time"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// Config groups the per-domain detector settings.
type Config struct {
	Login    LoginConfig    `toml:"login"`
	Firewall FirewallConfig `toml:"firewall"`
	Patch    PatchConfig    `toml:"patch"`
}

// DefaultConfig returns stock settings for every domain.
func DefaultConfig() Config {
	return Config{
		Login:    DefaultLoginConfig(),
		Firewall: DefaultFirewallConfig(),
		Patch:    DefaultPatchConfig(),
	}
}

// Set dispatches a batch to the detector for its domain.
type Set struct {
	Login    *LoginDetector
	Firewall *FirewallDetector
	Patch    *PatchDetector
}

// NewSet builds all three detectors.
func NewSet(cfg Config) (*Set, error) {
	login, err := NewLoginDetector(cfg.Login)
	if err != nil {
		return nil, err
	}
	return &Set{
		Login:    login,
		Firewall: NewFirewallDetector(cfg.Firewall),
		Patch:    NewPatchDetector(cfg.Patch),
	}, nil
}

// Detect runs the detector matching b.Domain. now is the run instant used
// for time-relative checks.
func (s *Set) Detect(b telemetry.Batch, now time.Time) ([]Indicator, Summary, error) {
	switch b.Domain {
	case telemetry.DomainLogin:
		ind, sum := s.Login.Detect(b.Login)
		return ind, sum, nil
	case telemetry.DomainFirewall:
		ind, sum := s.Firewall.Detect(b.Firewall)
		return ind, sum, nil
	case telemetry.DomainPatch:
		ind, sum := s.Patch.Detect(b.Patch, now)
		return ind, sum, nil
	}
	return nil, Summary{}, fmt.Errorf("detect: unknown domain %q", b.Domain)
}
