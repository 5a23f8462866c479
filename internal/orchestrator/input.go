package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iyulab/threatlens/internal/telemetry"
)

// Input carries raw telemetry per domain. A nil field means the domain is
// not analyzed.
type Input struct {
	Login          any
	Firewall       any
	Patch          any
	AnalystContext string
}

// For returns the raw input of a domain.
func (in Input) For(d telemetry.Domain) any {
	switch d {
	case telemetry.DomainLogin:
		return in.Login
	case telemetry.DomainFirewall:
		return in.Firewall
	case telemetry.DomainPatch:
		return in.Patch
	}
	return nil
}

// Set stores raw input for a domain.
func (in *Input) Set(d telemetry.Domain, raw any) {
	switch d {
	case telemetry.DomainLogin:
		in.Login = raw
	case telemetry.DomainFirewall:
		in.Firewall = raw
	case telemetry.DomainPatch:
		in.Patch = raw
	}
}

// Domains lists the domains with input, in reporting order.
func (in Input) Domains() []telemetry.Domain {
	var out []telemetry.Domain
	for _, d := range telemetry.Domains() {
		if in.For(d) != nil {
			out = append(out, d)
		}
	}
	return out
}

// Only keeps the input of the given domains.
func (in Input) Only(domains ...telemetry.Domain) Input {
	out := Input{AnalystContext: in.AnalystContext}
	for _, d := range domains {
		out.Set(d, in.For(d))
	}
	return out
}

// bundleKeys maps accepted bundle keys to domains.
var bundleKeys = map[string]telemetry.Domain{
	"login":          telemetry.DomainLogin,
	"logins":         telemetry.DomainLogin,
	"login_data":     telemetry.DomainLogin,
	"firewall":       telemetry.DomainFirewall,
	"firewall_logs":  telemetry.DomainFirewall,
	"firewall_data":  telemetry.DomainFirewall,
	"patch":          telemetry.DomainPatch,
	"patches":        telemetry.DomainPatch,
	"patch_data":     telemetry.DomainPatch,
	"patch_status":   telemetry.DomainPatch,
}

// Format is an input file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension; anything that is not
// YAML is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Decode parses raw telemetry.
func Decode(data []byte, f Format) (any, error) {
	var v any
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	if v == nil {
		return nil, fmt.Errorf("empty input")
	}
	return v, nil
}

// LoadInputFile reads one domain's telemetry from a JSON or YAML file.
func LoadInputFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	v, err := Decode(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// DecodeBundle parses an object keyed by domain ("login", "firewall",
// "patch" or their plural forms) plus an optional "analyst_context".
// Unknown keys are rejected.
func DecodeBundle(data []byte, f Format) (Input, error) {
	v, err := Decode(data, f)
	if err != nil {
		return Input{}, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Input{}, fmt.Errorf("bundle must be an object keyed by domain, got %T", v)
	}

	var in Input
	for key, raw := range obj {
		if key == "analyst_context" {
			s, ok := raw.(string)
			if !ok {
				return Input{}, fmt.Errorf("analyst_context must be a string")
			}
			in.AnalystContext = s
			continue
		}
		d, ok := bundleKeys[strings.ToLower(key)]
		if !ok {
			return Input{}, fmt.Errorf("unknown bundle key %q", key)
		}
		if in.For(d) != nil {
			return Input{}, fmt.Errorf("bundle supplies %s more than once", d)
		}
		in.Set(d, raw)
	}
	return in, nil
}

// LoadBundle reads a bundle file.
func LoadBundle(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read bundle: %w", err)
	}
	in, err := DecodeBundle(data, FormatFor(path))
	if err != nil {
		return Input{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}
