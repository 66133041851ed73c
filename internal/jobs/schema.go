package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Detail payloads arrive as raw JSON from the API and from schedule files.
// Each job type carries a schema so malformed payloads are rejected before
// any row is written.
var detailSchemas = map[Type]string{
	TypeFirmwareUpdate: `{
		"type": "object",
		"required": ["items"],
		"properties": {
			"items": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["component", "version"],
					"properties": {
						"component": {"type": "string", "minLength": 1},
						"version": {"type": "string", "minLength": 1},
						"image_uri": {"type": "string"}
					}
				}
			},
			"reboot_policy": {"type": "string", "enum": ["immediate", "staged", "none"]}
		}
	}`,
	TypeDiscoveryScan: `{
		"type": "object",
		"properties": {
			"credential_set_ids": {
				"type": "array",
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`,
	TypeClusterSafetyCheck: `{
		"type": "object",
		"properties": {
			"skip_host_ids": {
				"type": "array",
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`,
	TypeRollingClusterUpdate: `{
		"type": "object",
		"required": ["update_kind", "phases", "max_parallel"],
		"properties": {
			"update_kind": {"type": "string", "enum": ["firmware_only", "hypervisor_only", "hypervisor_then_firmware", "firmware_then_hypervisor"]},
			"phases": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"firmware_items": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["component", "version", "image_uri"],
					"properties": {
						"component": {"type": "string", "minLength": 1},
						"version": {"type": "string", "minLength": 1},
						"image_uri": {"type": "string", "minLength": 1}
					}
				}
			},
			"baseline_id": {"type": "string"},
			"credential_set_id": {"type": "string"},
			"hypervisor_secret": {"type": "string"},
			"max_parallel": {"type": "integer", "minimum": 1},
			"min_healthy_hosts": {"type": "integer", "minimum": 1},
			"backup_first": {"type": "boolean"},
			"verify_after_each": {"type": "boolean"},
			"stop_on_error": {"type": "boolean"},
			"skip_host_ids": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeConsoleLaunch: `{
		"type": "object",
		"properties": {
			"protocol": {"type": "string", "enum": ["html5", "vnc", "kvm"]}
		}
	}`,
	TypeOutletControl: `{
		"type": "object",
		"required": ["targets", "action"],
		"properties": {
			"targets": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["pdu_host", "outlet"],
					"properties": {
						"pdu_host": {"type": "string", "minLength": 1},
						"outlet": {"type": "integer", "minimum": 1}
					}
				}
			},
			"action": {"type": "string", "enum": ["on", "off", "reboot"]}
		}
	}`,
}

// validateDetailsSchema checks raw against the schema for t. A nil payload is
// allowed only for types whose schema has no required fields.
func validateDetailsSchema(t Type, raw json.RawMessage) error {
	schema, ok := detailSchemas[t]
	if !ok {
		return &ValidationError{Field: "type", Reason: "unknown job type " + string(t)}
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ValidationError{Field: "details", Reason: "not valid JSON: " + err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		return &ValidationError{Field: "details", Reason: strings.Join(msgs, "; ")}
	}
	return nil
}
