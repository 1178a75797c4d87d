// Package jsonschema models the subset of JSON Schema used to declare
// function parameters to providers, and derives schemas from Go types by
// reflection.
//
// The main entry point is [GenerateJSONSchema]. Struct fields honour the json
// tag for naming and a jsonschema tag for description, enum values and
// required markers. Self-referencing types are cut off with a plain object
// schema.
package jsonschema
