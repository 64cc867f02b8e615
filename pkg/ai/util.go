package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// SchemaFor reflects a JSON schema from out's type for structured output
// requests. The schema is inlined (no $ref) and closed to additional
// properties, which strict decoding modes require.
func SchemaFor(out any) any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return r.Reflect(struct{}{})
	}
	return r.Reflect(reflect.New(t).Interface())
}

// UnmarshalModelJSON decodes model output into out, tolerating the damage
// models routinely inflict on JSON: markdown code fences, payloads encoded
// as a JSON string, a doubled opening brace, unquoted keys, single quotes,
// truncated tails. Clean input takes the fast path; everything else goes
// through repair.
func UnmarshalModelJSON(input string, out any) error {
	s := stripCodeFence(strings.TrimSpace(input))

	if err := json.Unmarshal([]byte(s), out); err == nil {
		return nil
	}

	// Some models return the whole payload encoded as a JSON string.
	// Unwrap one level and retry; if the inner content is still broken
	// it continues into repair below.
	var quoted string
	if err := json.Unmarshal([]byte(s), &quoted); err == nil {
		s = stripCodeFence(strings.TrimSpace(quoted))
		if err := json.Unmarshal([]byte(s), out); err == nil {
			return nil
		}
	}

	s = collapseDoubledBrace(s)
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return fmt.Errorf("model output is not repairable JSON: %w (input: %s)", err, s)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode repaired model output: %w (input: %s, repaired: %s)", err, s, repaired)
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag. Unfenced input passes through unchanged.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		// The fence line may carry a language tag but never payload.
		if !strings.ContainsAny(body[:idx], "{}[]") {
			body = body[idx+1:]
		}
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// collapseDoubledBrace drops one brace when the payload opens with two,
// an artifact of models echoing the schema's opening brace.
func collapseDoubledBrace(s string) string {
	if !strings.HasPrefix(s, "{") {
		return s
	}
	rest := strings.TrimSpace(s[1:])
	if strings.HasPrefix(rest, "{") {
		return rest
	}
	return s
}
