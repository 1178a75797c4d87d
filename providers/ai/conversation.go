package ai

import "strings"

// ValidateConversation checks the structural invariants of a turn list:
// it is non-empty, holds at most one guidance turn which must be last, and
// every function turn directly follows an assistant turn announcing the calls
// it answers.
func ValidateConversation(turns []Turn) error {
	if len(turns) == 0 {
		return NewValidationError("messages must not be empty")
	}

	guidanceCount := 0
	for i, turn := range turns {
		switch turn.Role {
		case RoleGuidance:
			guidanceCount++
			if guidanceCount > 1 {
				return NewProtocolViolation("conversation holds more than one guidance turn")
			}
			if i != len(turns)-1 {
				return NewProtocolViolation("guidance turn at position %d is not the last turn", i)
			}

		case RoleFunction:
			if i == 0 || turns[i-1].Role != RoleAssistant {
				return NewProtocolViolation("function turn at position %d does not follow an assistant call announcement", i)
			}
			announced := turns[i-1].FunctionCalls()
			for _, response := range turn.FunctionResponses() {
				if !announces(announced, response) {
					return NewProtocolViolation("function turn at position %d answers %q which the previous turn did not call", i, response.Name)
				}
			}

		case RoleSystem, RoleUser, RoleAssistant:

		default:
			return NewValidationError("unknown role %q at position %d", turn.Role, i)
		}
	}

	return nil
}

func announces(calls []FunctionCallPart, response FunctionResponsePart) bool {
	for _, call := range calls {
		if call.Name != response.Name {
			continue
		}
		if call.ID == "" || response.ID == "" || call.ID == response.ID {
			return true
		}
	}
	return false
}

// SplitSystem joins the text of every system turn and returns it together with
// the remaining turns, for backends that carry instructions outside the
// message list.
func SplitSystem(turns []Turn) (system string, rest []Turn) {
	var parts []string
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			if text := turn.Text(); text != "" {
				parts = append(parts, text)
			}
			continue
		}
		rest = append(rest, turn)
	}
	return strings.Join(parts, "\n\n"), rest
}
