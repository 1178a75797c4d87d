package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/leofalp/polychat/core/broker"
)

// Name is the function name advertised to the model.
const Name = "calculate"

// Result is what the model receives.
type Result struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// Register declares the calculate function on b.
func Register(b *broker.Broker) error {
	return b.Declare(Name, "Performs basic arithmetic on two numbers. Use it instead of computing by hand.").
		Param("a", "number", "First operand").
		Param("b", "number", "Second operand").
		OptionalParam("op", "string", "One of add, sub, mul, div, pow (or + - * / ^)", "add").
		Handle(handle)
}

func handle(ctx context.Context, args []any) (any, error) {
	a, err := broker.Arg[float64](args, 0)
	if err != nil {
		return nil, err
	}
	b, err := broker.Arg[float64](args, 1)
	if err != nil {
		return nil, err
	}
	op, err := broker.Arg[string](args, 2)
	if err != nil {
		return nil, err
	}
	return Calc(a, b, op)
}

// Calc applies op to a and b. Results that JSON cannot carry, such as
// division by zero, are errors.
func Calc(a, b float64, op string) (Result, error) {
	var value float64
	var symbol string
	switch op {
	case "add", "+":
		value, symbol = a+b, "+"
	case "sub", "-":
		value, symbol = a-b, "-"
	case "mul", "*":
		value, symbol = a*b, "*"
	case "div", "/":
		if b == 0 {
			return Result{}, errors.New("division by zero")
		}
		value, symbol = a/b, "/"
	case "pow", "^":
		value, symbol = math.Pow(a, b), "^"
	default:
		return Result{}, fmt.Errorf("unsupported operation %q", op)
	}

	if math.IsInf(value, 0) || math.IsNaN(value) {
		return Result{}, fmt.Errorf("%g %s %g is not a finite number", a, symbol, b)
	}
	return Result{Expression: fmt.Sprintf("%g %s %g", a, symbol, b), Result: value}, nil
}
