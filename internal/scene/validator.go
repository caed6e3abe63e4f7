package scene

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/scenecraft/pkg/schema"
)

const (
	sceneSchemaURL   = "https://scenecraft.dev/schemas/scene.json"
	requestSchemaURL = "https://scenecraft.dev/schemas/job_request.json"
)

const sceneSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://scenecraft.dev/schemas/scene.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          }
        },
        "data": { "type": "object" }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": ["string", "null"] },
        "targetHandle": { "type": ["string", "null"] }
      }
    }
  }
}`

const requestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://scenecraft.dev/schemas/job_request.json",
  "type": "object",
  "properties": {
    "model": { "type": "string", "maxLength": 200 },
    "user_query": { "type": "string", "maxLength": 20000 },
    "scene_data": { "type": ["string", "object", "null"] },
    "catalog": {},
    "scene_generation_guidelines": { "type": "string" }
  }
}`

// Validator checks scenes and job requests against embedded JSON Schemas.
// It is safe for concurrent use.
type Validator struct {
	scene   *jsonschema.Schema
	request *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for url, text := range map[string]string{
		sceneSchemaURL:   sceneSchemaJSON,
		requestSchemaURL: requestSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
	}

	sceneSchema, err := c.Compile(sceneSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile scene schema: %w", err)
	}
	requestSchema, err := c.Compile(requestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &Validator{scene: sceneSchema, request: requestSchema}, nil
}

// ValidateScene checks the scene text. Violations are recorded as errors in
// the returned report; a nil error means the text was at least JSON.
func (v *Validator) ValidateScene(text string) (*schema.Report, error) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedDocument, "scene is not valid JSON: %v", err).WithCause(err)
	}
	report := &schema.Report{}
	if err := v.scene.Validate(inst); err != nil {
		addViolations(report, err)
	}
	return report, nil
}

// ValidateRequest checks a raw job request body (the request_data object).
func (v *Validator) ValidateRequest(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "request is not valid JSON: %v", err).WithCause(err)
	}
	if err := v.request.Validate(inst); err != nil {
		report := &schema.Report{}
		addViolations(report, err)
		msg := report.Errors[0].Message
		if len(report.Errors) > 1 {
			msg = fmt.Sprintf("request has %d errors", len(report.Errors))
		}
		return schema.NewError(schema.ErrCodeValidation, msg).
			WithDetails(map[string]any{"errors": report.Errors})
	}
	return nil
}

func addViolations(report *schema.Report, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		report.Fail("/", "schema", err.Error())
		return
	}
	collect(report, verr)
	if report.OK() {
		report.Fail("/", "schema", verr.Error())
	}
}

// collect walks the error tree down to its leaves.
func collect(report *schema.Report, verr *jsonschema.ValidationError) {
	if len(verr.Causes) == 0 {
		report.Fail("/"+strings.Join(verr.InstanceLocation, "/"), "schema", verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		collect(report, cause)
	}
}
