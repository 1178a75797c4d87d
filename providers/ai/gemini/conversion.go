package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/leofalp/polychat/providers/ai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// buildRequest translates turns and options into a Gemini request. Remote
// images are expected to be inlined already; any left over are sent as file
// references.
func buildRequest(turns []ai.Turn, options ai.ChatOptions, caps Capabilities) (generateContentRequest, error) {
	system, rest := ai.SplitSystem(turns)

	contents, err := buildContents(rest)
	if err != nil {
		return generateContentRequest{}, err
	}

	request := generateContentRequest{}
	if system != "" {
		if caps.SupportsSystemInstruction {
			request.SystemInstruction = &content{Parts: []part{{Text: system}}}
		} else {
			contents = foldSystem(contents, system)
		}
	}
	request.Contents = contents
	request.GenerationConfig = buildGenerationConfig(options.Generation)

	if caps.SupportsFunctionCalling && len(options.Functions) > 0 {
		declarations := make([]functionDeclaration, 0, len(options.Functions))
		for _, spec := range options.Functions {
			declarations = append(declarations, functionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			})
		}
		request.Tools = []tool{{FunctionDeclarations: declarations}}
	}

	return request, nil
}

// buildContents maps turns to contents and merges consecutive contents with
// the same role, which the API rejects.
func buildContents(turns []ai.Turn) ([]content, error) {
	var contents []content

	for _, turn := range turns {
		role, err := wireRole(turn.Role)
		if err != nil {
			return nil, err
		}

		parts := make([]part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			converted, err := toPart(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, converted)
		}
		if len(parts) == 0 {
			continue
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}

	return contents, nil
}

func wireRole(role ai.Role) (string, error) {
	switch role {
	case ai.RoleUser, ai.RoleFunction:
		return roleUser, nil
	case ai.RoleAssistant, ai.RoleGuidance:
		return roleModel, nil
	default:
		return "", ai.NewValidationError("unknown role %q", role)
	}
}

func toPart(p ai.Part) (part, error) {
	switch v := p.(type) {
	case ai.TextPart:
		return part{Text: v.Text}, nil

	case ai.ImagePart:
		if mimeType, data, ok := v.Base64(); ok {
			if mimeType == "" {
				mimeType = "image/png"
			}
			return part{InlineData: &inlineData{MimeType: mimeType, Data: data}}, nil
		}
		return part{FileData: &fileData{MimeType: v.MIMEType, FileURI: v.URL}}, nil

	case ai.FunctionCallPart:
		args, err := json.Marshal(v.Args)
		if err != nil {
			return part{}, fmt.Errorf("encoding arguments of %q: %w", v.Name, err)
		}
		return part{FunctionCall: &functionCall{ID: v.ID, Name: v.Name, Args: args}}, nil

	case ai.FunctionResponsePart:
		return part{FunctionResponse: &functionResponse{ID: v.ID, Name: v.Name, Response: responseObject(v.Result)}}, nil

	default:
		return part{}, fmt.Errorf("unsupported part type %T", p)
	}
}

// responseObject wraps non-object function results, since the API expects a
// JSON object in functionResponse.response.
func responseObject(result json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"result": trimmed})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

// foldSystem prepends the system prompt to the first user content.
func foldSystem(contents []content, system string) []content {
	for i := range contents {
		if contents[i].Role == roleUser {
			contents[i].Parts = append([]part{{Text: system}}, contents[i].Parts...)
			return contents
		}
	}
	return append([]content{{Role: roleUser, Parts: []part{{Text: system}}}}, contents...)
}

func buildGenerationConfig(gen ai.GenerationOptions) *generationConfig {
	if gen.Temperature == nil && gen.TopP == nil && gen.TopK == nil && gen.MaxTokens == nil &&
		gen.CandidateCount == nil && len(gen.StopSequences) == 0 {
		return nil
	}
	return &generationConfig{
		Temperature:     gen.Temperature,
		TopP:            gen.TopP,
		TopK:            gen.TopK,
		MaxOutputTokens: gen.MaxTokens,
		StopSequences:   gen.StopSequences,
		CandidateCount:  gen.CandidateCount,
	}
}

// mapFinishReason normalizes a Gemini finishReason. Every block reason is a
// safety outcome.
func mapFinishReason(reason string) ai.FinishReason {
	switch reason {
	case "":
		return ""
	case "STOP":
		return ai.FinishStop
	case "MAX_TOKENS":
		return ai.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return ai.FinishSafety
	default:
		return ai.FinishOther
	}
}

func toSafetyRatings(ratings []safetyRating) []ai.SafetyRating {
	if len(ratings) == 0 {
		return nil
	}
	out := make([]ai.SafetyRating, len(ratings))
	for i, rating := range ratings {
		out[i] = ai.SafetyRating{Category: rating.Category, Probability: rating.Probability, Blocked: rating.Blocked}
	}
	return out
}

// promptBlocked reports a rejected prompt as a SafetyError.
func promptBlocked(feedback *promptFeedback) error {
	if feedback == nil || feedback.BlockReason == "" {
		return nil
	}
	return &ai.SafetyError{
		Reason:  feedback.BlockReason,
		Ratings: [][]ai.SafetyRating{toSafetyRatings(feedback.SafetyRatings)},
	}
}
