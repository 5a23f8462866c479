package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ExcerptLength bounds the raw output carried by a ParseError.
const ExcerptLength = 500

// Backticks are written as \x60 because Go raw strings cannot contain them.
var fencedJSONRegex = regexp.MustCompile("(?is)\x60\x60\x60json\\s*(.*?)\\s*\x60\x60\x60")

// extractor is one strategy for pulling a JSON object out of model output.
type extractor struct {
	name string
	fn   func(raw string) (map[string]interface{}, error)
}

// extractors run in order; the first success wins.
var extractors = []extractor{
	{"fenced", extractFenced},
	{"braces", extractBraces},
	{"whole", extractWhole},
}

// ExtractJSON pulls the verdict object out of free-form model output: a
// ```json fenced block, then the outermost brace span, then the whole
// trimmed text.
func ExtractJSON(raw string) (map[string]interface{}, error) {
	var errs []error
	for _, x := range extractors {
		obj, err := x.fn(raw)
		if err == nil {
			return obj, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", x.name, err))
	}
	return nil, &ParseError{Excerpt: excerpt(raw, ExcerptLength), Err: errors.Join(errs...)}
}

func extractFenced(raw string) (map[string]interface{}, error) {
	m := fencedJSONRegex.FindStringSubmatch(raw)
	if m == nil {
		return nil, errors.New("no fenced json block")
	}
	return decodeObject(m[1])
}

// extractBraces tries the greedy first-{ to last-} span, then a string-aware
// balanced scan from the first {, for output followed by prose with braces.
func extractBraces(raw string) (map[string]interface{}, error) {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first < 0 || last <= first {
		return nil, errors.New("no brace-delimited span")
	}
	obj, err := decodeObject(raw[first : last+1])
	if err == nil {
		return obj, nil
	}
	if end := balancedEnd(raw, first); end > first {
		if obj, berr := decodeObject(raw[first : end+1]); berr == nil {
			return obj, nil
		}
	}
	return nil, err
}

func extractWhole(raw string) (map[string]interface{}, error) {
	return decodeObject(strings.TrimSpace(raw))
}

func decodeObject(s string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

// balancedEnd returns the index of the } closing the { at start, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
