// Package broker turns local Go functions into declarations a model can call
// and resolves the model's call payloads back into ordered invocations.
//
// Functions are declared explicitly with a builder:
//
//	b := broker.New()
//	err := b.Declare("forecast", "Returns the weather forecast for a city.").
//	    Param("city", "string", "City name").
//	    OptionalParam("days", "integer", "Number of days", 3).
//	    Handle(func(ctx context.Context, args []any) (any, error) {
//	        city, _ := broker.Arg[string](args, 0)
//	        days, _ := broker.Arg[int](args, 1)
//	        return lookup(ctx, city, days)
//	    })
//
// A declaration is registered atomically by Handle: if the function or any
// parameter lacks a description or type, nothing is registered.
package broker
