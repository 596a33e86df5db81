package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/provisioner.schema.json
var provisionerSchema []byte

//go:embed schema/settings.schema.json
var settingsSchema []byte

// ValidateAgainstSchema compiles schema under name and validates the JSON
// document data against it. ref optionally selects a sub-schema ("#/$defs/x").
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}

	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", name, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}

// ValidateProvisionerJSON validates the provisioning configuration document.
func ValidateProvisionerJSON(data []byte) error {
	return ValidateAgainstSchema("provisioner.schema.json", provisionerSchema, data, "")
}

// ValidateSettingsJSON validates the runtime settings document.
func ValidateSettingsJSON(data []byte) error {
	return ValidateAgainstSchema("settings.schema.json", settingsSchema, data, "")
}
