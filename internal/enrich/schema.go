package enrich

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is what the model must return. Validation happens before the
// payload is trusted; a response missing required keys or carrying wrong types
// is a malformed-response failure, never a partial merge.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "label": {"type": "string", "enum": ["qualified", "unqualified", "needs_review"]},
    "company_name": {"type": "string"},
    "contact_name": {"type": "string"},
    "email": {"type": "string"},
    "phone": {"type": "string"},
    "industry": {"type": "string"},
    "summary": {"type": "string"},
    "confidence": {"type": "string", "enum": ["low", "medium", "high"]}
  },
  "required": ["label", "confidence"],
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("enrichment.json", responseSchema)

// leadFields mirrors the schema for unmarshalling after validation.
type leadFields struct {
	Label       string `json:"label"`
	CompanyName string `json:"company_name"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Industry    string `json:"industry"`
	Summary     string `json:"summary"`
	Confidence  string `json:"confidence"`
}

// parseResponse validates the raw model output against the schema and decodes
// it. Markdown code fences around the JSON are tolerated; models add them.
func parseResponse(content string) (leadFields, error) {
	var out leadFields

	raw := stripFences([]byte(content))

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return out, eris.Wrap(err, "enrich: decode model output")
	}
	if err := compiledSchema.Validate(v); err != nil {
		return out, eris.Wrap(err, "enrich: schema validation")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrap(err, "enrich: unmarshal fields")
	}
	return out, nil
}

func stripFences(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[i+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}
