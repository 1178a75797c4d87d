package gemini

import "strings"

// Capabilities describes what the Gemini API supports for a specific model.
type Capabilities struct {
	SupportsSystemInstruction bool // top-level systemInstruction field
	SupportsFunctionCalling   bool // functionDeclarations tool
}

// detectCapabilities returns capabilities for a model. The first generation
// models reject systemInstruction, so the system prompt is folded into the
// first user turn for them.
func detectCapabilities(model string) Capabilities {
	model = strings.TrimPrefix(strings.ToLower(model), "models/")

	if strings.HasPrefix(model, "gemini-1.0") || model == "gemini-pro" || model == "gemini-pro-vision" {
		return Capabilities{
			SupportsSystemInstruction: false,
			SupportsFunctionCalling:   model != "gemini-pro-vision",
		}
	}

	return Capabilities{
		SupportsSystemInstruction: true,
		SupportsFunctionCalling:   true,
	}
}
