// Package envelope converts between assistant message text and typed payloads.
package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

type fieldRule struct {
	path  string
	types []gjson.Type
	// optional fields may be absent; absent reads as null.
	optional bool
}

var requiredFields = []fieldRule{
	{path: "businessId", types: []gjson.Type{gjson.String}},
	{path: "intentUnderstood", types: []gjson.Type{gjson.True, gjson.False}},
	{path: "intentAllowed", types: []gjson.Type{gjson.True, gjson.False}},
	{path: "isActionConfirmation", types: []gjson.Type{gjson.True, gjson.False}},
	{path: "responseMessage", types: []gjson.Type{gjson.String}},
	{path: "action", types: []gjson.Type{gjson.String, gjson.Null}, optional: true},
}

// StripFences removes markdown code fencing around a reply.
func StripFences(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// Parse checks the reply's shape and decodes it. It does not judge the
// action; that is the dispatcher's job.
func Parse(raw string) (contractx.Envelope, error) {
	text := StripFences(raw)
	if text == "" {
		return contractx.Envelope{}, fmt.Errorf("%w: empty reply", contractx.ErrMalformedEnvelope)
	}
	if !gjson.Valid(text) {
		return contractx.Envelope{}, fmt.Errorf("%w: reply is not valid json", contractx.ErrMalformedEnvelope)
	}

	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return contractx.Envelope{}, fmt.Errorf("%w: reply is not a json object", contractx.ErrMalformedEnvelope)
	}

	for _, rule := range requiredFields {
		field := doc.Get(rule.path)
		if !field.Exists() {
			if rule.optional {
				continue
			}
			return contractx.Envelope{}, fmt.Errorf("%w: missing field %s", contractx.ErrMalformedEnvelope, rule.path)
		}
		if !hasType(field, rule.types) {
			return contractx.Envelope{}, fmt.Errorf("%w: field %s has type %s", contractx.ErrMalformedEnvelope, rule.path, field.Type)
		}
	}

	if sd := doc.Get("schemaData"); sd.Exists() && sd.Type != gjson.Null && !sd.IsObject() {
		return contractx.Envelope{}, fmt.Errorf("%w: schemaData must be an object", contractx.ErrMalformedEnvelope)
	}

	var env contractx.Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return contractx.Envelope{}, fmt.Errorf("%w: %v", contractx.ErrMalformedEnvelope, err)
	}
	return env, nil
}

func hasType(v gjson.Result, types []gjson.Type) bool {
	for _, t := range types {
		if v.Type == t {
			return true
		}
	}
	return false
}

// BuildTurn renders the user turn content:
// {"businessId": ..., "customerInput": ..., "actionResult": ...}.
// A non-JSON action result is embedded as a string.
func BuildTurn(businessID string, customerInput string, actionResult json.RawMessage) (string, error) {
	content, err := sjson.Set("{}", "businessId", businessID)
	if err != nil {
		return "", fmt.Errorf("build turn: %w", err)
	}
	content, err = sjson.Set(content, "customerInput", customerInput)
	if err != nil {
		return "", fmt.Errorf("build turn: %w", err)
	}

	if len(actionResult) == 0 {
		return content, nil
	}
	if gjson.ValidBytes(actionResult) {
		content, err = sjson.SetRaw(content, "actionResult", string(actionResult))
	} else {
		content, err = sjson.Set(content, "actionResult", string(actionResult))
	}
	if err != nil {
		return "", fmt.Errorf("build turn: %w", err)
	}
	return content, nil
}
