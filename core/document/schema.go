package document

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// protocolSchema is the JSON Schema for protocol documents. It is
// validated before decoding so that schema errors point at the document
// rather than at a half-decoded struct.
const protocolSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "unicycler protocol",
  "type": "object",
  "additionalProperties": false,
  "required": ["record", "method"],
  "properties": {
    "unicycler": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "version": {"type": "string"}
      }
    },
    "sample": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "capacity_mAh": {"$ref": "#/$defs/quantity"}
      }
    },
    "record": {
      "type": "object",
      "additionalProperties": false,
      "required": ["time_s"],
      "properties": {
        "current_mA": {"$ref": "#/$defs/quantity"},
        "voltage_V": {"$ref": "#/$defs/quantity"},
        "time_s": {"$ref": "#/$defs/quantity"}
      }
    },
    "safety": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_voltage_V": {"$ref": "#/$defs/quantity"},
        "min_voltage_V": {"$ref": "#/$defs/quantity"},
        "max_current_mA": {"$ref": "#/$defs/quantity"},
        "min_current_mA": {"$ref": "#/$defs/quantity"},
        "max_capacity_mAh": {"$ref": "#/$defs/quantity"},
        "delay_s": {"$ref": "#/$defs/quantity"}
      }
    },
    "method": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["step"],
        "properties": {
          "step": {
            "enum": [
              "open_circuit_voltage",
              "constant_current",
              "constant_voltage",
              "impedance_spectroscopy",
              "loop",
              "tag"
            ]
          }
        },
        "allOf": [
          {
            "if": {"properties": {"step": {"const": "open_circuit_voltage"}}},
            "then": {
              "additionalProperties": false,
              "required": ["until_time_s"],
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "until_time_s": {"$ref": "#/$defs/quantity"}
              }
            }
          },
          {
            "if": {"properties": {"step": {"const": "constant_current"}}},
            "then": {
              "additionalProperties": false,
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "rate_C": {"$ref": "#/$defs/quantity"},
                "current_mA": {"$ref": "#/$defs/quantity"},
                "until_time_s": {"$ref": "#/$defs/quantity"},
                "until_voltage_V": {"$ref": "#/$defs/quantity"}
              }
            }
          },
          {
            "if": {"properties": {"step": {"const": "constant_voltage"}}},
            "then": {
              "additionalProperties": false,
              "required": ["voltage_V"],
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "voltage_V": {"$ref": "#/$defs/quantity"},
                "until_time_s": {"$ref": "#/$defs/quantity"},
                "until_rate_C": {"$ref": "#/$defs/quantity"},
                "until_current_mA": {"$ref": "#/$defs/quantity"}
              }
            }
          },
          {
            "if": {"properties": {"step": {"const": "impedance_spectroscopy"}}},
            "then": {
              "additionalProperties": false,
              "required": ["start_frequency_Hz", "end_frequency_Hz"],
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "amplitude_V": {"$ref": "#/$defs/quantity"},
                "amplitude_mA": {"$ref": "#/$defs/quantity"},
                "start_frequency_Hz": {"$ref": "#/$defs/quantity"},
                "end_frequency_Hz": {"$ref": "#/$defs/quantity"},
                "points_per_decade": {"type": "integer", "minimum": 1},
                "measures_per_point": {"type": "integer", "minimum": 1},
                "drift_correction": {"type": "boolean"}
              }
            }
          },
          {
            "if": {"properties": {"step": {"const": "loop"}}},
            "then": {
              "additionalProperties": false,
              "required": ["cycle_count"],
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "loop_to": {"type": ["integer", "string"]},
                "cycle_count": {"type": "integer", "minimum": 1}
              }
            }
          },
          {
            "if": {"properties": {"step": {"const": "tag"}}},
            "then": {
              "additionalProperties": false,
              "required": ["tag"],
              "properties": {
                "step": true,
                "id": {"type": "string"},
                "tag": {"type": "string", "minLength": 1}
              }
            }
          }
        ]
      }
    }
  },
  "$defs": {
    "quantity": {"type": ["number", "string"]}
  }
}`

var compiledSchema = jsonschema.MustCompileString("protocol.schema.json", protocolSchema)

// validateSchema checks a decoded generic document against the protocol
// schema.
func validateSchema(doc interface{}) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("protocol document is not valid: %w", err)
	}
	return nil
}
