package analyzer

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/iyulab/threatlens/internal/detector"
)

//go:embed schema/verdict.schema.json
var verdictSchemaJSON string

const verdictSchemaURL = "https://threatlens.local/schema/verdict.json"

var verdictSchema = mustCompileVerdictSchema()

func mustCompileVerdictSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchemaJSON)); err != nil {
		panic(fmt.Sprintf("verdict schema: %v", err))
	}
	return c.MustCompile(verdictSchemaURL)
}

// Verdict is the validated model assessment for one domain.
type Verdict struct {
	Severity        detector.Severity `json:"severity"`
	Confidence      float64           `json:"confidence"`
	Detected        *bool             `json:"threat_detected,omitempty"`
	ThreatType      string            `json:"threat_type,omitempty"`
	Indicators      []string          `json:"indicators"`
	MitreTactics    []string          `json:"mitre_tactics"`
	Recommendations []string          `json:"recommendations"`
	Reasoning       string            `json:"reasoning"`
}

// ThreatDetected is the single gate for risk contribution: the model's
// explicit threat_detected flag when present, otherwise true since severity
// is mandatory.
func (v Verdict) ThreatDetected() bool {
	if v.Detected != nil {
		return *v.Detected
	}
	return true
}

// ThreatLabel names the threat for contributor lists.
func (v Verdict) ThreatLabel() string {
	if v.ThreatType != "" {
		return v.ThreatType
	}
	if len(v.Indicators) > 0 {
		return v.Indicators[0]
	}
	return string(v.Severity) + " severity threat"
}

var (
	severityKeys       = []string{"threat_level", "severity"}
	recommendationKeys = []string{"recommendations", "mitigations", "mitigation"}
	quotedName         = regexp.MustCompile(`'([^']+)'`)
)

// ValidateVerdict checks the mandatory fields against the verdict schema and
// coerces the optional ones. threat_level wins over severity; both are
// matched case-insensitively.
func ValidateVerdict(obj map[string]interface{}) (Verdict, error) {
	instance := make(map[string]interface{}, 2)
	for _, k := range severityKeys {
		if v, ok := obj[k]; ok && v != nil {
			if s, isStr := v.(string); isStr {
				v = strings.ToUpper(strings.TrimSpace(s))
			}
			instance["severity"] = v
			break
		}
	}
	if c, ok := obj["confidence"]; ok {
		instance["confidence"] = c
	}

	if err := verdictSchema.Validate(instance); err != nil {
		return Verdict{}, contractError(err)
	}

	v := Verdict{
		Severity:     detector.Severity(instance["severity"].(string)),
		Confidence:   number(instance["confidence"]),
		Detected:     flag(obj["threat_detected"]),
		ThreatType:   stringify(obj["threat_type"]),
		Indicators:   stringList(obj["indicators"]),
		MitreTactics: stringList(obj["mitre_tactics"]),
		Reasoning:    stringify(obj["reasoning"]),
	}
	v.Recommendations = []string{}
	for _, k := range recommendationKeys {
		if raw, ok := obj[k]; ok && raw != nil {
			v.Recommendations = stringList(raw)
			break
		}
	}
	return v, nil
}

func contractError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ContractError{Reason: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.TrimLeft(leaf.InstanceLocation, "#/")
	if field == "" {
		if m := quotedName.FindStringSubmatch(leaf.Message); m != nil {
			field = m[1]
		}
	}
	if field == "severity" {
		field = "threat_level|severity"
	}
	return &ContractError{Field: field, Reason: leaf.Message}
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case int:
		return float64(n)
	}
	return 0
}

func flag(v interface{}) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			b = true
		case "false", "no":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// stringList wraps a scalar, flattens an array and defaults to empty.
func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		items = []interface{}{v}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := stringify(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
