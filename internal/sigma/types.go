package sigma

import "github.com/iyulab/threatlens/internal/telemetry"

// Match records a Sigma rule hit against one normalized telemetry record.
type Match struct {
	Domain    telemetry.Domain       `json:"domain"`
	RuleTitle string                 `json:"rule_title"`
	RuleID    string                 `json:"rule_id,omitempty"`
	Level     string                 `json:"level"` // informational | low | medium | high | critical
	Event     map[string]interface{} `json:"event"` // first matching record, as evidence
}
