package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://bonecraft.ai/schemas/"

// Request schema names (file stem under schemas/).
const (
	SchemaCredentials = "credentials"
	SchemaSynth       = "synth"
	SchemaList        = "list"
	SchemaBuy         = "buy"
)

// Validator checks request bodies against the embedded JSON schemas
// before they are decoded into typed requests.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(files))
	for _, f := range files {
		raw, err := schemaFS.ReadFile(path.Join("schemas", f.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+f.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", f.Name(), err)
		}
		names = append(names, f.Name())
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[strings.TrimSuffix(name, ".schema.json")] = s
	}
	return v, nil
}

// Decode validates raw against the named schema and unmarshals it into out.
// Any failure is reported as E_BAD_REQUEST.
func (v *Validator) Decode(schema string, raw []byte, out any) error {
	s, ok := v.schemas[schema]
	if !ok {
		return Errorf(ErrInternal, "unknown schema %q", schema)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Errorf(ErrBadRequest, "malformed JSON body")
	}
	if err := s.Validate(doc); err != nil {
		return Errorf(ErrBadRequest, "invalid request: %s", firstCause(err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Errorf(ErrBadRequest, "invalid request: %v", err)
	}
	return nil
}

func firstCause(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
