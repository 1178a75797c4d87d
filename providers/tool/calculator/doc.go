// Package calculator declares an in-process arithmetic function the model
// can call through a broker.
//
//	functions := broker.New()
//	if err := calculator.Register(functions); err != nil {
//		return err
//	}
package calculator
