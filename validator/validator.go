// Package validator defines the Validator collaborator that spec.md §1
// explicitly places OUT of the core's scope: "the schema compiler / runtime
// validator that encodes and decodes typed payloads against a schema
// registry". THE CORE only depends on the interface below; a real
// deployment plugs in a generated schema validator.
//
// JSONValidator is the default, dependency-free stand-in used by tests and
// by callers who have not wired a schema compiler: it encodes bodies as
// JSON and treats Validate as a no-op, exactly matching spec.md's Non-goal
// "no built-in ... schema validation; the core assumes validation is
// provided externally."
package validator

import "encoding/json"

// Validator encodes/decodes/validates a named schema's payload. schemaId
// follows the convention servicemap derives in spec.md §4.1:
// "${path}Ptl${name}/Req${name}" etc.
type Validator interface {
	EncodeSchema(schemaId string, body any) ([]byte, error)
	DecodeSchema(schemaId string, data []byte, out any) error
	Validate(schemaId string, body any) error
}

// JSONValidator implements Validator with plain encoding/json and no
// schema checks, mirroring the teacher's codec.JSONCodec
// (codec/json_codec.go): a minimal Encode/Decode pair with no validation
// layer beyond what json.Unmarshal itself enforces.
type JSONValidator struct{}

func (JSONValidator) EncodeSchema(_ string, body any) ([]byte, error) {
	return json.Marshal(body)
}

func (JSONValidator) DecodeSchema(_ string, data []byte, out any) error {
	return json.Unmarshal(data, out)
}

func (JSONValidator) Validate(_ string, _ any) error {
	return nil
}
