package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LoginAliases lists accepted source field names per canonical login attribute,
// in priority order.
var LoginAliases = struct {
	Address, Username, Timestamp, Success, Status, Location, UserAgent, SessionID []string
}{
	Address:   []string{"sourceIP", "source_ip", "ip", "source", "src_ip", "client_ip"},
	Username:  []string{"username", "user", "user_name", "account"},
	Timestamp: []string{"timestamp", "time", "ts", "event_time", "@timestamp"},
	Success:   []string{"success", "successful"},
	Status:    []string{"status", "result", "outcome"},
	Location:  []string{"location", "geoLocation", "geo_location", "country"},
	UserAgent: []string{"userAgent", "user_agent"},
	SessionID: []string{"sessionId", "session_id"},
}

// FirewallAliases lists accepted source field names per canonical firewall attribute,
// in priority order.
var FirewallAliases = struct {
	Source, Destination, Port, Protocol, Action, Blocked, Timestamp, Bytes []string
}{
	Source:      []string{"sourceIP", "source_ip", "src_ip", "src", "source"},
	Destination: []string{"destinationIP", "destination_ip", "dst_ip", "dest_ip", "dst", "destination"},
	Port:        []string{"destinationPort", "destination_port", "dst_port", "dest_port", "port"},
	Protocol:    []string{"protocol", "proto"},
	Action:      []string{"action", "disposition"},
	Blocked:     []string{"blocked"},
	Timestamp:   []string{"timestamp", "time", "ts", "event_time", "@timestamp"},
	Bytes:       []string{"bytes", "bytes_sent"},
}

// PatchAliases lists accepted source field names per canonical patch attribute,
// in priority order.
var PatchAliases = struct {
	Hostname, OS, LastPatched, Missing, CVEs, EndOfLife, Installed, Compliance []string
	PatchID, CVEID, Score                                                       []string
}{
	Hostname:    []string{"hostname", "host", "system", "computer_name"},
	OS:          []string{"os", "operating_system", "platform"},
	LastPatched: []string{"lastPatched", "last_patched", "lastPatchDate", "last_patch_date"},
	Missing:     []string{"missingPatches", "missing_patches"},
	CVEs:        []string{"cves", "cveList", "cve_list", "vulnerabilities"},
	EndOfLife:   []string{"eol", "endOfLife", "end_of_life", "is_unsupported"},
	Installed:   []string{"installedPatches", "installed_patches"},
	Compliance:  []string{"complianceStatus", "compliance_status"},
	PatchID:     []string{"patchId", "patch_id", "kb", "id"},
	CVEID:       []string{"cveId", "cve_id", "cve"},
	Score:       []string{"cveScore", "cvssScore", "cvss_score", "cve_score", "cvss", "score"},
}

// blockedActions are firewall actions that count as a block.
var blockedActions = map[string]bool{
	"block":   true,
	"blocked": true,
	"deny":    true,
	"denied":  true,
	"drop":    true,
	"reject":  true,
}

// failedStatuses are login status values that count as a failed attempt.
var failedStatuses = map[string]bool{
	"failed":   true,
	"failure":  true,
	"fail":     true,
	"denied":   true,
	"rejected": true,
}

// Records converts raw input into a sequence of RawRecords. A single object is
// wrapped into a one-element sequence.
func Records(raw any, domain Domain) ([]RawRecord, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &ValidationError{Domain: domain, Index: -1, Field: "<input>"}
	case RawRecord:
		return []RawRecord{v}, nil
	case map[string]any:
		return []RawRecord{v}, nil
	case []RawRecord:
		return v, nil
	case []map[string]any:
		out := make([]RawRecord, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]RawRecord, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ValidationError{Domain: domain, Index: i, Field: "<record>"}
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, &ValidationError{Domain: domain, Index: -1, Field: "<input>"}
	}
}

// NormalizeLogin resolves login records. now substitutes for unknown timestamps.
func NormalizeLogin(raw any, now time.Time) ([]LoginRecord, error) {
	recs, err := Records(raw, DomainLogin)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &ValidationError{Domain: DomainLogin, Index: -1, Field: "<input>"}
	}

	a := LoginAliases
	out := make([]LoginRecord, 0, len(recs))
	for i, rec := range recs {
		addr, ok := lookupString(rec, a.Address)
		if !ok {
			return nil, &ValidationError{Domain: DomainLogin, Index: i, Field: "sourceIP"}
		}
		user, ok := lookupString(rec, a.Username)
		if !ok {
			return nil, &ValidationError{Domain: DomainLogin, Index: i, Field: "username"}
		}

		success := true
		if v, ok := lookup(rec, a.Success); ok {
			if b, ok := boolValue(v); ok && !b {
				success = false
			}
		}
		if status, ok := lookupString(rec, a.Status); ok && failedStatuses[strings.ToLower(status)] {
			success = false
		}

		location, _ := lookupString(rec, a.Location)
		agent, _ := lookupString(rec, a.UserAgent)
		session, _ := lookupString(rec, a.SessionID)

		ts, zoneless := lookupTimeZone(rec, a.Timestamp, now)
		out = append(out, LoginRecord{
			Username:  user,
			SourceIP:  addr,
			Timestamp: ts,
			Zoneless:  zoneless,
			Success:   success,
			Location:  location,
			UserAgent: agent,
			SessionID: session,
		})
	}
	return out, nil
}

// NormalizeFirewall resolves firewall records. now substitutes for unknown timestamps.
func NormalizeFirewall(raw any, now time.Time) ([]FirewallRecord, error) {
	recs, err := Records(raw, DomainFirewall)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &ValidationError{Domain: DomainFirewall, Index: -1, Field: "<input>"}
	}

	a := FirewallAliases
	out := make([]FirewallRecord, 0, len(recs))
	for i, rec := range recs {
		src, ok := lookupString(rec, a.Source)
		if !ok {
			return nil, &ValidationError{Domain: DomainFirewall, Index: i, Field: "sourceIP"}
		}
		dst, hasDst := lookupString(rec, a.Destination)
		port, hasPort := 0, false
		if v, ok := lookup(rec, a.Port); ok {
			if f, ok := floatValue(v); ok && f > 0 {
				port, hasPort = int(f), true
			}
		}
		if !hasDst && !hasPort {
			return nil, &ValidationError{Domain: DomainFirewall, Index: i, Field: "destinationIP|destinationPort"}
		}
		if !hasDst {
			dst = UnknownAddress
		}

		action, _ := lookupString(rec, a.Action)
		blocked := blockedActions[strings.ToLower(action)]
		if v, ok := lookup(rec, a.Blocked); ok {
			if b, ok := boolValue(v); ok && b {
				blocked = true
			}
		}
		protocol, _ := lookupString(rec, a.Protocol)

		var bytes int64
		if v, ok := lookup(rec, a.Bytes); ok {
			if f, ok := floatValue(v); ok {
				bytes = int64(f)
			}
		}

		out = append(out, FirewallRecord{
			SourceIP:        src,
			DestinationIP:   dst,
			DestinationPort: port,
			Protocol:        protocol,
			Action:          action,
			Blocked:         blocked,
			Timestamp:       lookupTime(rec, a.Timestamp, now),
			Bytes:           bytes,
		})
	}
	return out, nil
}

// NormalizePatch resolves patch inventory records. Raw CVE list entries are
// merged into MissingPatches after the explicit missing-patch entries.
func NormalizePatch(raw any) ([]PatchRecord, error) {
	recs, err := Records(raw, DomainPatch)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &ValidationError{Domain: DomainPatch, Index: -1, Field: "<input>"}
	}

	a := PatchAliases
	out := make([]PatchRecord, 0, len(recs))
	for i, rec := range recs {
		host, ok := lookupString(rec, a.Hostname)
		if !ok {
			return nil, &ValidationError{Domain: DomainPatch, Index: i, Field: "hostname"}
		}
		missing, hasMissing := lookupList(rec, a.Missing)
		cves, hasCVEs := lookupList(rec, a.CVEs)
		if !hasMissing && !hasCVEs {
			return nil, &ValidationError{Domain: DomainPatch, Index: i, Field: "missingPatches|cves"}
		}

		patches := make([]MissingPatch, 0, len(missing)+len(cves))
		for _, item := range missing {
			patches = append(patches, missingPatch(item))
		}
		for _, item := range cves {
			patches = append(patches, missingPatch(item))
		}

		var lastPatched *time.Time
		if v, ok := lookup(rec, a.LastPatched); ok {
			if t, ok := timeValue(v); ok {
				lastPatched = &t
			}
		}

		eol := false
		if v, ok := lookup(rec, a.EndOfLife); ok {
			eol, _ = boolValue(v)
		}

		var installed []string
		if list, ok := lookupList(rec, a.Installed); ok {
			for _, item := range list {
				if s := stringValue(item); s != "" {
					installed = append(installed, s)
				}
			}
		}

		osName, _ := lookupString(rec, a.OS)
		compliance, _ := lookupString(rec, a.Compliance)

		out = append(out, PatchRecord{
			Hostname:         host,
			OS:               osName,
			LastPatched:      lastPatched,
			MissingPatches:   patches,
			InstalledPatches: installed,
			EndOfLife:        eol,
			ComplianceStatus: compliance,
		})
	}
	return out, nil
}

// missingPatch reads one missing-patch or CVE list element. Bare strings are
// treated as a CVE ID when they look like one, otherwise as a patch ID.
func missingPatch(item any) MissingPatch {
	switch v := item.(type) {
	case map[string]any:
		rec := RawRecord(v)
		mp := MissingPatch{}
		mp.PatchID, _ = lookupString(rec, PatchAliases.PatchID)
		mp.CVEID, _ = lookupString(rec, PatchAliases.CVEID)
		if mp.CVEID == "" && strings.HasPrefix(strings.ToUpper(mp.PatchID), "CVE-") {
			mp.CVEID, mp.PatchID = mp.PatchID, ""
		}
		if s, ok := lookup(rec, PatchAliases.Score); ok {
			if f, ok := floatValue(s); ok && f > 0 {
				mp.Score, mp.HasScore = f, true
			}
		}
		return mp
	default:
		s := stringValue(v)
		if strings.HasPrefix(strings.ToUpper(s), "CVE-") {
			return MissingPatch{CVEID: s}
		}
		return MissingPatch{PatchID: s}
	}
}

// lookup returns the first alias holding a non-nil, non-blank value.
func lookup(rec RawRecord, aliases []string) (any, bool) {
	for _, key := range aliases {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func lookupString(rec RawRecord, aliases []string) (string, bool) {
	v, ok := lookup(rec, aliases)
	if !ok {
		return "", false
	}
	s := stringValue(v)
	return s, s != ""
}

func lookupList(rec RawRecord, aliases []string) ([]any, bool) {
	for _, key := range aliases {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch list := v.(type) {
		case []any:
			return list, true
		case []string:
			out := make([]any, len(list))
			for i, s := range list {
				out[i] = s
			}
			return out, true
		case []map[string]any:
			out := make([]any, len(list))
			for i, m := range list {
				out[i] = m
			}
			return out, true
		}
	}
	return nil, false
}

func lookupTime(rec RawRecord, aliases []string, now time.Time) time.Time {
	t, _ := lookupTimeZone(rec, aliases, now)
	return t
}

// lookupTimeZone is lookupTime that also reports whether the matched value
// carried no zone or offset.
func lookupTimeZone(rec RawRecord, aliases []string, now time.Time) (time.Time, bool) {
	if v, ok := lookup(rec, aliases); ok {
		if t, zoneless, ok := parseTime(v); ok {
			return t, zoneless
		}
	}
	return now, false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func boolValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	default:
		if f, ok := floatValue(v); ok {
			return f != 0, true
		}
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
}

// zonelessLayouts carry no offset. They parse as UTC wall clock and are
// flagged so consumers can re-anchor them in their own zone.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeValue parses a timestamp string or a numeric epoch (seconds, or
// milliseconds when the magnitude says so).
func timeValue(v any) (time.Time, bool) {
	t, _, ok := parseTime(v)
	return t, ok
}

func parseTime(v any) (t time.Time, zoneless bool, ok bool) {
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, false, true
			}
		}
		for _, layout := range zonelessLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), false, true
		}
		return time.Time{}, false, false
	}
	if t, isTime := v.(time.Time); isTime {
		return t, false, true
	}
	if f, isNum := floatValue(v); isNum {
		return epoch(f), false, true
	}
	return time.Time{}, false, false
}

func epoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
