package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FunctionListing renders function declarations as plain text for backends
// without a native function-calling protocol. Parameters appear in declared
// order, which is also the positional order expected back from the model.
func FunctionListing(specs []FunctionSpec) string {
	var sb strings.Builder
	for i, spec := range specs {
		if i > 0 {
			sb.WriteString("\n")
		}

		signature := make([]string, 0, len(spec.Params))
		for _, param := range spec.Params {
			entry := param.Name + ": " + param.Type
			if param.HasDefault {
				encoded, err := json.Marshal(param.Default)
				if err != nil {
					encoded = []byte("null")
				}
				entry += " = " + string(encoded)
			}
			signature = append(signature, entry)
		}

		fmt.Fprintf(&sb, "%s(%s)\n", spec.Name, strings.Join(signature, ", "))
		fmt.Fprintf(&sb, "    %s\n", spec.Description)
		for _, param := range spec.Params {
			fmt.Fprintf(&sb, "    - %s: %s\n", param.Name, param.Description)
		}
	}
	return sb.String()
}
