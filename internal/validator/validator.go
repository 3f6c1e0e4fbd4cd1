// Package validator checks extracted data against a structured schema
// using JSON Schema draft 2020-12 semantics, for the Store stage.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxReportedErrors = 3

// Validate compiles schema (a JSON-Schema document, already decoded
// into a map by the caller) and checks data against it, collecting
// every basic error rather than stopping at the first. A non-empty
// return is the failure message to attach to extraction.failed; a nil
// return means data is valid.
func Validate(schema map[string]any, data map[string]any) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("validator: marshal schema: %w", err)
	}
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("validator: add schema resource: %w", err)
	}

	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("validator: compile schema: %w", err)
	}

	if err := compiled.Validate(data); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return err
		}
		return formatErrors(ve)
	}
	return nil
}

// formatErrors flattens a ValidationError tree into at most
// maxReportedErrors "<dotted.path>: <message>" lines, joined.
func formatErrors(root *jsonschema.ValidationError) error {
	leaves := collectLeaves(root, nil)
	if len(leaves) > maxReportedErrors {
		leaves = leaves[:maxReportedErrors]
	}

	lines := make([]string, 0, len(leaves))
	for _, e := range leaves {
		path := pointerToDotted(e.InstanceLocation)
		if path == "" {
			path = "(root)"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", path, e.Message))
	}
	return fmt.Errorf("%s", strings.Join(lines, "; "))
}

// pointerToDotted turns a JSON Pointer like "/items/0/title" into
// "items.0.title".
func pointerToDotted(instanceLocation string) string {
	return strings.ReplaceAll(strings.TrimPrefix(instanceLocation, "/"), "/", ".")
}

type flatError struct {
	InstanceLocation string
	Message          string
}

func collectLeaves(e *jsonschema.ValidationError, into []flatError) []flatError {
	if len(e.Causes) == 0 {
		into = append(into, flatError{InstanceLocation: e.InstanceLocation, Message: e.Message})
		return into
	}
	for _, cause := range e.Causes {
		into = collectLeaves(cause, into)
	}
	return into
}
