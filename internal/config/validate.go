package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance against the compiled JSON schema. Mirrors the
// teacher's internal/config.Validate, but returns an error instead of
// aborting the process: a library must never call os.Exit on a caller's
// behalf.
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("sensocto-config.json", schema)
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: parse instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: validate: %w", err)
	}
	return nil
}
