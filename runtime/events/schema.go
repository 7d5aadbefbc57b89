package events

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/events.json
var eventsSchema []byte

const schemaURL = "events.json"

// compileSchemas compiles the payload schema of every event type.
func compileSchemas() (map[EventType]*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventsSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal event schemas: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add event schema resource: %w", err)
	}
	schemas := make(map[EventType]*jsonschema.Schema, len(Types))
	for _, t := range Types {
		s, err := c.Compile(schemaURL + "#/$defs/" + string(t))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}
		schemas[t] = s
	}
	return schemas, nil
}
