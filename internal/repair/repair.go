// Package repair turns free-form model output into an impact record.
//
// Models wrap JSON in markdown fences, surround it with commentary, or stop
// mid-document when they hit a token limit. Repair strips the wrappers, cuts
// out the outermost balanced document, closes it if it was truncated and maps
// the field spellings seen in practice onto Record. It performs no I/O and
// returns the same output for the same input.
package repair

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrNoStructure  = errors.New("no structured document")
	ErrInvalidJSON  = errors.New("invalid json")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field value")
)

const (
	MinScore = 0.0
	MaxScore = 10.0

	// closing a truncated document backs up over at most this many commas
	maxTruncationCuts = 16
)

var (
	fencePattern    = regexp.MustCompile("(?i)```(?:json5?|javascript|js)?")
	thinkPattern    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	numberPattern   = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*(?:/\s*(\d+(?:\.\d+)?))?`)
	titlePaths      = []string{"title", "headline"}
	scorePaths      = []string{"impactScore", "impact_score", "score", "impact"}
	rationalePaths  = []string{"rationale", "reason", "analysis", "essence.subtext", "summary"}
	entityPaths     = []string{"relatedEntities", "related_entities", "entities", "stocks", "map.stocks"}
	entityNamePaths = []string{"name", "ticker", "symbol"}
)

// Record is the structured part of an analysis produced by a model.
type Record struct {
	Title           string
	ImpactScore     float64
	Rationale       string
	RelatedEntities []string
}

// Error describes why a response could not be repaired.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "repair: " + e.Err.Error()
	}
	return fmt.Sprintf("repair: %s: %s", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Repair extracts a Record from raw model output.
func Repair(raw string) (Record, error) {
	doc, err := Extract(raw)
	if err != nil {
		return Record{}, err
	}

	root := gjson.Parse(doc)
	if root.IsArray() {
		root = firstObject(root)
	}
	if !root.IsObject() {
		return Record{}, &Error{Err: ErrNoStructure}
	}

	rationale := firstString(root, rationalePaths)
	if rationale == "" {
		return Record{}, &Error{Field: "rationale", Err: ErrMissingField}
	}

	score, err := readScore(root)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Title:           firstString(root, titlePaths),
		ImpactScore:     score,
		Rationale:       rationale,
		RelatedEntities: readEntities(root),
	}, nil
}

// Extract returns the outermost JSON object, or array holding an object,
// embedded in raw. A document cut off before its end is closed.
func Extract(raw string) (string, error) {
	text := thinkPattern.ReplaceAllString(raw, "")
	text = fencePattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))

	found := false
	for offset := 0; offset < len(text); {
		idx := strings.IndexAny(text[offset:], "{[")
		if idx < 0 {
			break
		}
		found = true
		start := offset + idx
		if doc, ok := extractAt(text[start:]); ok {
			return doc, nil
		}
		offset = start + 1
	}

	if !found {
		return "", &Error{Err: ErrNoStructure}
	}
	return "", &Error{Err: ErrInvalidJSON}
}

func extractAt(text string) (string, bool) {
	scan := scanDocument(text)
	if scan.complete {
		return scan.doc, usable(scan.doc)
	}
	for _, candidate := range scan.closings() {
		if usable(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func usable(doc string) bool {
	if !gjson.Valid(doc) {
		return false
	}
	root := gjson.Parse(doc)
	if root.IsArray() {
		return firstObject(root).IsObject()
	}
	return root.IsObject()
}

type cut struct {
	pos   int
	stack []byte
}

type scanResult struct {
	doc      string
	complete bool
	inString bool
	escaped  bool
	stack    []byte
	commas   []cut
}

// scanDocument walks text from its first delimiter, tracking strings and
// nesting, and stops at the closer that balances the first opener.
func scanDocument(text string) scanResult {
	var (
		stack    []byte
		commas   []cut
		inString bool
		escaped  bool
	)

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				// stray closer, leave it to the validator
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return scanResult{doc: text[:i+1], complete: true}
			}
		case ',':
			commas = append(commas, cut{pos: i, stack: append([]byte(nil), stack...)})
		}
	}

	return scanResult{doc: text, inString: inString, escaped: escaped, stack: stack, commas: commas}
}

// closings lists candidate completions of a truncated document, most
// complete first: the text as is, then cut back to each earlier comma.
func (s scanResult) closings() []string {
	var out []string

	body := s.doc
	if s.inString {
		if s.escaped {
			body = body[:len(body)-1]
		}
		body += `"`
	}
	out = append(out, closeWith(body, s.stack))

	for i := len(s.commas) - 1; i >= 0 && len(s.commas)-i <= maxTruncationCuts; i-- {
		c := s.commas[i]
		out = append(out, closeWith(s.doc[:c.pos], c.stack))
	}
	return out
}

func closeWith(body string, stack []byte) string {
	body = strings.TrimRight(body, " \t\r\n,")
	var b strings.Builder
	b.Grow(len(body) + len(stack))
	b.WriteString(body)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func firstObject(arr gjson.Result) gjson.Result {
	var found gjson.Result
	arr.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			found = value
			return false
		}
		return true
	})
	return found
}

func firstString(root gjson.Result, paths []string) string {
	for _, path := range paths {
		value := root.Get(path)
		if value.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(value.String()); s != "" {
			return s
		}
	}
	return ""
}

func readScore(root gjson.Result) (float64, error) {
	for _, path := range scorePaths {
		value := root.Get(path)
		switch value.Type {
		case gjson.Number:
			return clampScore(value.Float()), nil
		case gjson.String:
			score, ok := parseScore(value.String())
			if !ok {
				return 0, &Error{Field: "impactScore", Err: ErrInvalidField}
			}
			return clampScore(score), nil
		case gjson.Null:
			continue
		default:
			if value.Exists() {
				return 0, &Error{Field: "impactScore", Err: ErrInvalidField}
			}
		}
	}
	return 0, nil
}

// parseScore reads "8.2", "7/10" or "3 / 5" style strings onto the 0..10 scale.
func parseScore(s string) (float64, bool) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] != "" {
		scale, err := strconv.ParseFloat(m[2], 64)
		if err != nil || scale == 0 {
			return 0, false
		}
		score = score / scale * MaxScore
	}
	return score, true
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

func readEntities(root gjson.Result) []string {
	entities := []string{}
	for _, path := range entityPaths {
		value := root.Get(path)
		switch {
		case value.IsArray():
			value.ForEach(func(_, elem gjson.Result) bool {
				if name := entityName(elem); name != "" {
					entities = append(entities, name)
				}
				return true
			})
		case value.Type == gjson.String:
			for _, part := range strings.Split(value.String(), ",") {
				if part = strings.TrimSpace(part); part != "" {
					entities = append(entities, part)
				}
			}
		default:
			continue
		}
		return entities
	}
	return entities
}

func entityName(elem gjson.Result) string {
	switch {
	case elem.Type == gjson.String:
		return strings.TrimSpace(elem.String())
	case elem.IsObject():
		return firstString(elem, entityNamePaths)
	}
	return ""
}
