package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// wireResult is the JSON the extraction provider returns.
type wireResult struct {
	EventType          string              `json:"eventType"`
	ImpactAxes         map[string]wireAxis `json:"impactAxes"`
	AffectedEntities   []string            `json:"affectedEntities"`
	RecommendedActions []wireAction        `json:"recommendedActions"`
	Confidence         *float64            `json:"extractionConfidence"`
	Details            *wireDetails        `json:"details"`

	// ConfidenceAlias accepts the short "confidence" key some models emit.
	ConfidenceAlias *float64 `json:"confidence"`
}

func (w *wireResult) confidence() *float64 {
	if w.Confidence != nil {
		return w.Confidence
	}
	return w.ConfidenceAlias
}

type wireAxis struct {
	Level     string `json:"level"`
	Rationale string `json:"rationale"`
}

type wireAction struct {
	Owner     string `json:"owner"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
	DueInDays int    `json:"dueInDays"`
}

type wireDetails struct {
	Product         string   `json:"product"`
	Availability    string   `json:"availability"`
	OldPrice        string   `json:"oldPrice"`
	NewPrice        string   `json:"newPrice"`
	Currency        string   `json:"currency"`
	ChangePct       float64  `json:"changePct"`
	Partners        []string `json:"partners"`
	Scope           string   `json:"scope"`
	Regulator       string   `json:"regulator"`
	Jurisdiction    string   `json:"jurisdiction"`
	Action          string   `json:"action"`
	Severity        string   `json:"severity"`
	RecordsAffected int64    `json:"recordsAffected"`
	Acquirer        string   `json:"acquirer"`
	Target          string   `json:"target"`
	DealValue       string   `json:"dealValue"`
	Amount          string   `json:"amount"`
	Round           string   `json:"round"`
	Investors       []string `json:"investors"`
	Headcount       int      `json:"headcount"`
	Teams           string   `json:"teams"`
	Service         string   `json:"service"`
	Duration        string   `json:"duration"`
	OldName         string   `json:"oldName"`
	NewName         string   `json:"newName"`
	Regions         []string `json:"regions"`
}

// wireKeys maps a folded key (lowercase, no separators) to its wire spelling.
var wireKeys = func() map[string]string {
	keys := []string{
		"eventType", "impactAxes", "affectedEntities", "recommendedActions", "extractionConfidence", "details",
		"level", "rationale", "owner", "title", "priority", "dueInDays",
		"product", "availability", "oldPrice", "newPrice", "currency", "changePct", "partners",
		"scope", "regulator", "jurisdiction", "action", "severity", "recordsAffected", "acquirer",
		"target", "dealValue", "amount", "round", "investors", "headcount", "teams", "service",
		"duration", "oldName", "newName", "regions",
		"market", "pricing", "regulatory", "brand",
	}
	m := make(map[string]string, len(keys)+1)
	for _, k := range keys {
		m[foldKey(k)] = k
	}
	m["confidence"] = "extractionConfidence"
	return m
}()

func foldKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, k)
}

var (
	fencePattern      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	eventTypePattern  = regexp.MustCompile(`(?i)"?event[_ ]?type"?\s*[:=]\s*"([^"]+)"`)
	confidencePattern = regexp.MustCompile(`(?i)"?(?:extraction[_ ]?)?confidence"?\s*[:=]\s*([0-9]*\.?[0-9]+)`)
)

// decodeStrict accepts exactly one JSON object with no unknown fields.
func decodeStrict(data []byte) (*wireResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireResult
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	return &w, nil
}

// repair recovers what it can from output that failed strict decoding: code
// fences are removed, the outermost object is isolated, keys are matched
// regardless of case and separators, and eventType is recovered with a
// pattern when the JSON is broken beyond decoding.
func repair(data []byte) (*wireResult, error) {
	text := strings.TrimSpace(string(data))
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if w, err := decodeLenient([]byte(text[start : end+1])); err == nil {
			return w, nil
		}
	}

	m := eventTypePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: no JSON object or eventType found", model.ErrMalformedExtraction)
	}
	w := &wireResult{EventType: m[1]}
	if c := confidencePattern.FindStringSubmatch(text); c != nil {
		if v, err := strconv.ParseFloat(c[1], 64); err == nil {
			w.Confidence = &v
		}
	}
	return w, nil
}

// decodeLenient rewrites keys onto their wire spelling and decodes each
// top-level field on its own so one bad field does not lose the rest.
func decodeLenient(data []byte) (*wireResult, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	obj, ok := canonicalKeys(raw).(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}

	var w wireResult
	fields := map[string]any{
		"eventType":            &w.EventType,
		"impactAxes":           &w.ImpactAxes,
		"affectedEntities":     &w.AffectedEntities,
		"recommendedActions":   &w.RecommendedActions,
		"extractionConfidence": &w.Confidence,
		"details":              &w.Details,
	}
	for key, dst := range fields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		_ = json.Unmarshal(b, dst)
	}
	if v, ok := obj["extractionConfidence"].(string); ok && w.Confidence == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			w.Confidence = &f
		}
	}
	return &w, nil
}

func canonicalKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if known, ok := wireKeys[foldKey(k)]; ok {
				k = known
			}
			out[k] = canonicalKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = canonicalKeys(t[i])
		}
		return t
	default:
		return v
	}
}
