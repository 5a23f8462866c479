package detector

import (
	"fmt"
	"strings"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// FirewallConfig tunes the firewall detector.
type FirewallConfig struct {
	// PortScanThreshold is the distinct-destination-port count per source.
	PortScanThreshold int `toml:"port_scan_threshold"`
	// RepeatedBlockThreshold is the blocked-event count per source.
	RepeatedBlockThreshold int      `toml:"repeated_block_threshold"`
	SuspiciousPorts        []int    `toml:"suspicious_ports"`
	HighRiskProtocols      []string `toml:"high_risk_protocols"`
}

// DefaultFirewallConfig returns the stock firewall thresholds.
func DefaultFirewallConfig() FirewallConfig {
	return FirewallConfig{
		PortScanThreshold:      10,
		RepeatedBlockThreshold: 5,
		SuspiciousPorts:        []int{22, 23, 3389, 445, 135},
		HighRiskProtocols:      []string{"TELNET", "FTP", "SMB"},
	}
}

// FirewallDetector flags sensitive ports, insecure protocols, port scans and
// sources that keep getting blocked.
type FirewallDetector struct {
	cfg       FirewallConfig
	ports     map[int]bool
	protocols map[string]bool
}

func NewFirewallDetector(cfg FirewallConfig) *FirewallDetector {
	d := &FirewallDetector{
		cfg:       cfg,
		ports:     make(map[int]bool, len(cfg.SuspiciousPorts)),
		protocols: make(map[string]bool, len(cfg.HighRiskProtocols)),
	}
	for _, p := range cfg.SuspiciousPorts {
		d.ports[p] = true
	}
	for _, p := range cfg.HighRiskProtocols {
		d.protocols[strings.ToUpper(p)] = true
	}
	return d
}

// Detect scans the batch. Per-record indicators come first, then at most one
// port-scan indicator, then one repeated-block indicator per qualifying source.
func (d *FirewallDetector) Detect(records []telemetry.FirewallRecord) ([]Indicator, Summary) {
	var indicators []Indicator
	sources := make(map[string]bool)
	uniquePorts := make(map[int]bool)
	blocked := 0

	for _, r := range records {
		sources[r.SourceIP] = true
		if r.DestinationPort > 0 {
			uniquePorts[r.DestinationPort] = true
		}
		if r.Blocked {
			blocked++
		}

		if d.ports[r.DestinationPort] {
			indicators = append(indicators, Indicator{
				Type:     "suspicious_port_access",
				Severity: SeverityMedium,
				Detail:   fmt.Sprintf("Access to sensitive port %d from %s", r.DestinationPort, r.SourceIP),
				Attributes: map[string]any{
					"source_ip":        r.SourceIP,
					"destination_port": r.DestinationPort,
				},
			})
		}
		if proto := strings.ToUpper(r.Protocol); proto != "" && d.protocols[proto] {
			indicators = append(indicators, Indicator{
				Type:     "high_risk_protocol",
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("Insecure protocol %s used by %s", proto, r.SourceIP),
				Attributes: map[string]any{
					"source_ip": r.SourceIP,
					"protocol":  proto,
				},
			})
		}
	}

	if scan, ok := d.portScan(records); ok {
		indicators = append(indicators, scan)
	}
	indicators = append(indicators, d.repeatedBlocks(records)...)

	blockRatio, blockRate := ratio(blocked, len(records))
	return indicators, Summary{
		Domain:         telemetry.DomainFirewall,
		Total:          len(records),
		IndicatorCount: len(indicators),
		Firewall: &FirewallStats{
			TotalEvents:     len(records),
			BlockedEvents:   blocked,
			AllowedEvents:   len(records) - blocked,
			BlockRatio:      blockRatio,
			BlockRate:       blockRate,
			UniqueSourceIPs: len(sources),
			UniquePorts:     len(uniquePorts),
		},
	}
}

// portScan reports the first source, in first-appearance order, that touched
// at least PortScanThreshold distinct destination ports.
func (d *FirewallDetector) portScan(records []telemetry.FirewallRecord) (Indicator, bool) {
	if d.cfg.PortScanThreshold <= 0 {
		return Indicator{}, false
	}

	ports := newOrderedGroup[int]()
	seen := make(map[string]map[int]bool)
	for _, r := range records {
		ports.touch(r.SourceIP)
		if r.DestinationPort <= 0 {
			continue
		}
		if seen[r.SourceIP] == nil {
			seen[r.SourceIP] = make(map[int]bool)
		}
		if !seen[r.SourceIP][r.DestinationPort] {
			seen[r.SourceIP][r.DestinationPort] = true
			ports.add(r.SourceIP, r.DestinationPort)
		}
	}

	for _, src := range ports.keys {
		scanned := ports.values[src]
		if len(scanned) < d.cfg.PortScanThreshold {
			continue
		}
		return Indicator{
			Type:     "port_scan",
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("Port scan from %s: %d distinct ports", src, len(scanned)),
			Attributes: map[string]any{
				"source_ip":     src,
				"ports_scanned": len(scanned),
				"ports":         scanned,
			},
		}, true
	}
	return Indicator{}, false
}

func (d *FirewallDetector) repeatedBlocks(records []telemetry.FirewallRecord) []Indicator {
	if d.cfg.RepeatedBlockThreshold <= 0 {
		return nil
	}

	counts := newOrderedGroup[struct{}]()
	for _, r := range records {
		if r.Blocked {
			counts.add(r.SourceIP, struct{}{})
		}
	}

	var out []Indicator
	for _, src := range counts.keys {
		n := len(counts.values[src])
		if n < d.cfg.RepeatedBlockThreshold {
			continue
		}
		out = append(out, Indicator{
			Type:     "repeated_blocks",
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("%d blocked connections from %s", n, src),
			Attributes: map[string]any{
				"source_ip":     src,
				"blocked_count": n,
			},
		})
	}
	return out
}
