package mothership

import (
	"encoding/json"
	"fmt"

	"github.com/typeworld/client/jsondata"
)

// downloadSettingsSchemaJSON and endpointCommandSchemaJSON pin down the
// shape of the two mothership payloads the core itself reasons about
// structurally (the breaking-version gate in addSubscription, §4.6 step
// 3c, and the message-queue bootstrap in the Client Orchestrator, §4.8).
// Every other endpoint's Extra is decoded ad hoc by its caller, matching
// the loose, "just enough" typing the original does for fields it only
// ever forwards.
const downloadSettingsSchemaJSON = `{
	"type": "object",
	"properties": {
		"messagingQueue": {"type": "string"},
		"breakingAPIVersions": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["messagingQueue", "breakingAPIVersions"]
}`

const endpointCommandSchemaJSON = `{
	"type": "object",
	"properties": {
		"canonicalURL": {"type": "string"},
		"name": {"type": "string"},
		"version": {"type": "string"},
		"allowedCommercialApps": {
			"type": "array",
			"items": {"type": "string"}
		},
		"sendsLiveNotifications": {"type": "boolean"}
	},
	"required": ["canonicalURL"]
}`

// schemaSet compiles its schemas once at Client construction, the same
// compile-once-validate-many discipline the jsondata package uses for
// inbound document bodies -- here applied to the mothership's own response
// envelopes instead of arbitrary user documents.
type schemaSet struct {
	downloadSettings jsondata.ValidSchema
	endpointCommand  jsondata.ValidSchema
}

func compileSchemas() (schemaSet, error) {
	var out schemaSet

	ds, err := jsondata.NewFromString("downloadSettings.json", downloadSettingsSchemaJSON)
	if err != nil {
		return out, fmt.Errorf("mothership: compiling downloadSettings schema: %w", err)
	}
	ec, err := jsondata.NewFromString("endpointCommand.json", endpointCommandSchemaJSON)
	if err != nil {
		return out, fmt.Errorf("mothership: compiling endpointCommand schema: %w", err)
	}

	out.downloadSettings = ds
	out.endpointCommand = ec
	return out, nil
}

// validateAgainst decodes raw and checks it against schema, returning a
// wrapped error naming which payload failed.
func validateAgainst(schema jsondata.ValidSchema, raw json.RawMessage, what string) error {
	ok, err := schema.ValidateDocument(raw)
	if err != nil {
		return fmt.Errorf("mothership: %s payload failed schema validation: %w", what, err)
	}
	if !ok {
		return fmt.Errorf("mothership: %s payload failed schema validation", what)
	}
	return nil
}
