package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iyulab/threatlens/internal/detector"
	"github.com/iyulab/threatlens/internal/sigma"
	"github.com/iyulab/threatlens/internal/telemetry"
)

// DataPlaceholder is replaced by the pretty-printed analysis context.
const DataPlaceholder = "{{DATA}}"

// MaxPromptIndicators caps the indicator list sent to the model.
const MaxPromptIndicators = 20

// SystemPrompt is the analyst persona sent with every domain prompt.
const SystemPrompt = `You are a senior cybersecurity analyst specializing in threat detection and incident response.
Analyze the provided security data and respond ONLY with valid JSON.
Required fields: threat_level, confidence, threat_detected, threat_type, indicators, mitre_tactics, recommendations, reasoning.
Use professional security terminology. Minimize speculation. Be concise and actionable.

FABRICATION PROHIBITION:
- NEVER invent IP addresses, usernames, hostnames or CVE identifiers that do not appear verbatim in the provided data.
- If the data is insufficient to reach a conclusion, say so in "reasoning" and lower "confidence".

CONFIDENCE CALIBRATION:
- 0.9-1.0: multiple independent indicators point to the same conclusion.
- 0.7-0.89: one strong indicator or two correlated ones.
- 0.4-0.69: a single indicator with a plausible benign explanation.
- below 0.4: anomalous but probably normal.

The heuristic indicators and rule matches were produced by deterministic detectors. Treat them as leads, not as proof.`

// verdictFormat is appended to every domain prompt.
const verdictFormat = `Respond ONLY with valid JSON in this exact format:
{
  "threat_level": "CRITICAL|HIGH|MEDIUM|LOW",
  "confidence": 0.0-1.0,
  "threat_detected": true|false,
  "threat_type": "short label for the dominant threat",
  "indicators": ["list of specific threat indicators found"],
  "mitre_tactics": ["relevant MITRE ATT&CK tactics"],
  "recommendations": ["actionable mitigation steps"],
  "reasoning": "brief explanation of the assessment"
}`

// DomainPrompts maps each telemetry domain to its analysis template.
var DomainPrompts = map[telemetry.Domain]string{
	telemetry.DomainLogin: `Analyze these authentication events for security threats. Look for:
- Brute force attacks (multiple failed attempts)
- Geographic anomalies (unexpected locations)
- Off-hours access patterns
- Credential stuffing indicators
- Privileged account abuse

DATA:
` + DataPlaceholder + `

` + verdictFormat,

	telemetry.DomainFirewall: `Review these firewall events for attack patterns. Identify:
- Port scanning activities
- DDoS patterns
- Data exfiltration attempts
- Lateral movement
- Command and control traffic
- Suspicious protocol usage

DATA:
` + DataPlaceholder + `

` + verdictFormat,

	telemetry.DomainPatch: `Assess vulnerability risk from patch status. Evaluate:
- CVE severity scores
- Exploit availability
- System criticality
- Patch age
- Attack surface exposure

DATA:
` + DataPlaceholder + `

` + verdictFormat,
}

// TemplateFor returns the analysis template for a domain.
func TemplateFor(domain telemetry.Domain) (string, error) {
	tmpl, ok := DomainPrompts[domain]
	if !ok {
		return "", fmt.Errorf("no prompt template for domain %q", domain)
	}
	return tmpl, nil
}

// BuildContext assembles the data handed to the model: summary, the first
// MaxPromptIndicators indicators and any rule matches.
func BuildContext(summary detector.Summary, indicators []detector.Indicator, matches []sigma.Match) map[string]interface{} {
	shown := indicators
	if len(shown) > MaxPromptIndicators {
		shown = shown[:MaxPromptIndicators]
	}
	if shown == nil {
		shown = []detector.Indicator{}
	}
	ctx := map[string]interface{}{
		"summary":         summary,
		"indicators":      shown,
		"indicator_count": len(indicators),
	}
	if len(indicators) > len(shown) {
		ctx["indicators_truncated"] = len(indicators) - len(shown)
	}
	if len(matches) > 0 {
		ctx["rule_matches"] = matches
	}
	return ctx
}

// BuildPrompt substitutes the pretty-printed JSON of data into the template.
func BuildPrompt(template string, data interface{}) (string, error) {
	if !strings.Contains(template, DataPlaceholder) {
		return "", fmt.Errorf("prompt template has no %s placeholder", DataPlaceholder)
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt data: %w", err)
	}
	return strings.ReplaceAll(template, DataPlaceholder, string(b)), nil
}

// InjectAnalystContext prepends analyst-provided context to a user prompt.
// If analystContext is empty, the original prompt is returned unchanged.
func InjectAnalystContext(userPrompt, analystContext string) string {
	if analystContext == "" {
		return userPrompt
	}
	header := fmt.Sprintf(`ANALYST CONTEXT (provided by the analyst reviewing this report):
%s

Items the analyst has explicitly confirmed as normal should have their threat level and confidence reduced accordingly. Do NOT fabricate; only adjust items that are directly addressed by the analyst's context.

---

`, analystContext)
	return header + userPrompt
}
