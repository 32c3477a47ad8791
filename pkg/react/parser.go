// Package react implements the ReAct response grammar parser and the
// ReActDriver loop that drives one skill execution to completion.
package react

import (
	"encoding/json"
	"strings"
)

// Action is one parsed `Action: <tool>` / `Action Input: <json>` block.
type Action struct {
	Tool string
	Args map[string]any
}

// Response is the parsed structure of one LLM turn.
type Response struct {
	IsFinal    bool
	FinalAnswer string
	Actions    []Action
	// Unparseable is true when the response matched neither a Final
	// Answer marker nor any Action block — treated as a thinking step
	// with no action.
	Unparseable bool
}

const (
	finalAnswerMarker = "Final Answer:"
	actionMarker      = "Action:"
	actionInputMarker = "Action Input:"
)

// FormatErrorFeedback is the soft nudge appended to the next system turn
// when a response parses as Unparseable.
const FormatErrorFeedback = "Your previous response was not in the expected format; please issue an Action or Final Answer."

// Parse implements the section-header state machine: it scans text
// line-by-line, recognizing Final Answer:, Action:, and Action Input:
// headers, and accumulates each section's body until the next header or
// end of input.
func Parse(text string) Response {
	lines := strings.Split(text, "\n")

	var (
		finalAnswer strings.Builder
		inFinal     bool

		actions       []Action
		curTool       string
		curInput      strings.Builder
		inActionInput bool
	)

	flushAction := func() {
		if curTool == "" {
			return
		}
		args, _ := parseActionInput(curInput.String())
		actions = append(actions, Action{Tool: curTool, Args: args})
		curTool = ""
		curInput.Reset()
		inActionInput = false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, finalAnswerMarker):
			flushAction()
			inFinal = true
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, finalAnswerMarker))
			if rest != "" {
				finalAnswer.WriteString(rest)
			}
			continue
		case strings.HasPrefix(trimmed, actionMarker) && !strings.HasPrefix(trimmed, actionInputMarker):
			flushAction()
			inFinal = false
			inActionInput = false
			curTool = strings.TrimSpace(strings.TrimPrefix(trimmed, actionMarker))
			continue
		case strings.HasPrefix(trimmed, actionInputMarker):
			inActionInput = true
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, actionInputMarker))
			if rest != "" {
				curInput.WriteString(rest)
			}
			continue
		}

		if inFinal {
			if finalAnswer.Len() > 0 {
				finalAnswer.WriteString("\n")
			}
			finalAnswer.WriteString(line)
		} else if inActionInput {
			if curInput.Len() > 0 {
				curInput.WriteString("\n")
			}
			curInput.WriteString(line)
		}
	}
	flushAction()

	switch {
	case inFinal || finalAnswer.Len() > 0:
		return Response{IsFinal: true, FinalAnswer: strings.TrimSpace(finalAnswer.String())}
	case len(actions) > 0:
		return Response{Actions: actions}
	default:
		return Response{Unparseable: true}
	}
}

func parseActionInput(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}, err
	}
	return args, nil
}
