package telemetry

import (
	"strconv"
	"strings"
	"time"
)

// UnknownAddress is the sentinel for an address field that could not be resolved.
const UnknownAddress = "unknown"

// LoginRecord is a normalized authentication event.
type LoginRecord struct {
	Username  string    `json:"username"`
	SourceIP  string    `json:"source_ip"`
	Timestamp time.Time `json:"timestamp"`
	// Zoneless marks a Timestamp parsed without an offset; its wall clock is
	// the event's local time.
	Zoneless  bool      `json:"-"`
	Success   bool      `json:"success"`
	Location  string    `json:"location,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// FirewallRecord is a normalized firewall or network flow event.
type FirewallRecord struct {
	SourceIP        string    `json:"source_ip"`
	DestinationIP   string    `json:"destination_ip"`
	DestinationPort int       `json:"destination_port,omitempty"`
	Protocol        string    `json:"protocol,omitempty"`
	Action          string    `json:"action,omitempty"`
	Blocked         bool      `json:"blocked"`
	Timestamp       time.Time `json:"timestamp"`
	Bytes           int64     `json:"bytes,omitempty"`
}

// MissingPatch is one outstanding patch or raw CVE entry for a system.
// HasScore is false when the source carried no CVE/CVSS score.
type MissingPatch struct {
	PatchID  string  `json:"patch_id,omitempty"`
	CVEID    string  `json:"cve_id,omitempty"`
	Score    float64 `json:"score,omitempty"`
	HasScore bool    `json:"-"`
}

// PatchRecord is a normalized patch/vulnerability inventory for one system.
// LastPatched is nil when the source did not say.
type PatchRecord struct {
	Hostname         string         `json:"hostname"`
	OS               string         `json:"os,omitempty"`
	LastPatched      *time.Time     `json:"last_patched,omitempty"`
	MissingPatches   []MissingPatch `json:"missing_patches"`
	InstalledPatches []string       `json:"installed_patches,omitempty"`
	EndOfLife        bool           `json:"end_of_life"`
	ComplianceStatus string         `json:"compliance_status,omitempty"`
}

// Event flattens the record into a string-valued map for rule evaluation.
func (r LoginRecord) Event() map[string]interface{} {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	return map[string]interface{}{
		"username":   r.Username,
		"source_ip":  r.SourceIP,
		"timestamp":  r.Timestamp.UTC().Format(time.RFC3339),
		"outcome":    outcome,
		"location":   r.Location,
		"user_agent": r.UserAgent,
		"session_id": r.SessionID,
	}
}

// Event flattens the record into a string-valued map for rule evaluation.
func (r FirewallRecord) Event() map[string]interface{} {
	port := ""
	if r.DestinationPort > 0 {
		port = strconv.Itoa(r.DestinationPort)
	}
	action := strings.ToLower(r.Action)
	if action == "" {
		action = "allow"
		if r.Blocked {
			action = "block"
		}
	}
	return map[string]interface{}{
		"source_ip":        r.SourceIP,
		"destination_ip":   r.DestinationIP,
		"destination_port": port,
		"protocol":         strings.ToUpper(r.Protocol),
		"action":           action,
		"timestamp":        r.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Event flattens the record into a string-valued map for rule evaluation.
func (r PatchRecord) Event() map[string]interface{} {
	cves := make([]string, 0, len(r.MissingPatches))
	for _, p := range r.MissingPatches {
		if p.CVEID != "" {
			cves = append(cves, p.CVEID)
		}
	}
	return map[string]interface{}{
		"hostname":          r.Hostname,
		"os":                r.OS,
		"end_of_life":       strconv.FormatBool(r.EndOfLife),
		"compliance_status": r.ComplianceStatus,
		"missing_cves":      strings.Join(cves, ","),
		"missing_count":     strconv.Itoa(len(r.MissingPatches)),
	}
}
