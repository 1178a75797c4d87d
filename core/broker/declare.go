package broker

import (
	"fmt"
	"strings"

	"github.com/leofalp/polychat/internal/jsonschema"
	"github.com/leofalp/polychat/providers/ai"
)

// Declaration accumulates a function's metadata until Handle registers it.
// The first problem found is kept and reported by Handle.
type Declaration struct {
	broker      *Broker
	name        string
	description string
	params      []ai.ParamSpec
	schemas     []*jsonschema.Schema
	err         error
}

// Declare starts a declaration for name.
func (b *Broker) Declare(name, description string) *Declaration {
	d := &Declaration{broker: b, name: name, description: description}
	switch {
	case strings.TrimSpace(name) == "":
		d.fail("function name is required")
	case strings.TrimSpace(description) == "":
		d.fail("function %q has no description", name)
	}
	return d
}

// Param declares a required parameter.
func (d *Declaration) Param(name, typ, description string) *Declaration {
	return d.add(ai.ParamSpec{Name: name, Type: typ, Description: description, Required: true}, nil)
}

// OptionalParam declares a parameter that takes value when omitted.
func (d *Declaration) OptionalParam(name, typ, description string, value any) *Declaration {
	return d.add(ai.ParamSpec{Name: name, Type: typ, Description: description, Default: value, HasDefault: true}, nil)
}

// ParamFor declares a required parameter whose schema is derived from T,
// typically a struct.
func ParamFor[T any](d *Declaration, name, description string) *Declaration {
	schema, err := jsonschema.GenerateJSONSchema[T]()
	if err != nil {
		d.fail("parameter %q of %q: %v", name, d.name, err)
		return d
	}
	return d.add(ai.ParamSpec{Name: name, Type: schema.Type, Description: description, Required: true}, schema)
}

func (d *Declaration) add(param ai.ParamSpec, schema *jsonschema.Schema) *Declaration {
	switch {
	case strings.TrimSpace(param.Name) == "":
		d.fail("function %q has a parameter without a name", d.name)
	case strings.TrimSpace(param.Description) == "":
		d.fail("parameter %q of %q has no description", param.Name, d.name)
	case !jsonschema.ValidType(param.Type):
		d.fail("parameter %q of %q has invalid type %q", param.Name, d.name, param.Type)
	}
	for _, existing := range d.params {
		if existing.Name == param.Name {
			d.fail("parameter %q of %q is declared twice", param.Name, d.name)
		}
	}

	d.params = append(d.params, param)
	d.schemas = append(d.schemas, schema)
	return d
}

func (d *Declaration) fail(format string, args ...any) {
	if d.err == nil {
		d.err = ai.NewValidationError(format, args...)
	}
}

// Handle binds fn and registers the declaration. Nothing is registered when
// any part of the declaration is invalid or the name is already taken.
func (d *Declaration) Handle(fn Handler) error {
	if d.err != nil {
		return d.err
	}
	if fn == nil {
		return ai.NewValidationError("function %q has no handler", d.name)
	}

	parameters, err := parametersSchema(d.params, d.schemas)
	if err != nil {
		return fmt.Errorf("function %q: %w", d.name, err)
	}

	spec := ai.FunctionSpec{
		Name:        d.name,
		Description: d.description,
		Parameters:  parameters,
		Params:      append([]ai.ParamSpec(nil), d.params...),
	}

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	if _, exists := d.broker.functions[d.name]; exists {
		return ai.NewValidationError("function %q is already declared", d.name)
	}
	d.broker.functions[d.name] = &function{spec: spec, handler: fn}
	d.broker.order = append(d.broker.order, d.name)
	return nil
}
