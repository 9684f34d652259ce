package conductor

import (
	"strings"
)

// The decision micro-format is two literal patterns emitted somewhere in a
// supervisor's free-text output, matched by case-sensitive prefix search:
//
//	TASK_COMPLETED: <summary>
//	NEXT_AGENT: <name> | SUBTASK: <description> | CONTEXT: <context>
//
// First occurrence wins if both appear. Parsing happens exactly once at this
// boundary; everything downstream dispatches on the tagged Decision.
const (
	completedMarker = "TASK_COMPLETED:"
	delegateMarker  = "NEXT_AGENT:"
	subtaskField    = "SUBTASK:"
	contextField    = "CONTEXT:"
)

// DecisionKind tags the parsed variant of a supervisor response.
type DecisionKind int

const (
	// DecisionUnparseable means no recognizable marker was found, or a
	// delegate marker was malformed.
	DecisionUnparseable DecisionKind = iota

	// DecisionCompleted terminates the coordination loop successfully.
	DecisionCompleted

	// DecisionDelegate routes a subtask to a named subordinate.
	DecisionDelegate
)

// Decision is the parsed form of a supervisor's response.
type Decision struct {
	Kind    DecisionKind
	Summary string // Completed
	Unit    string // Delegate
	Subtask string // Delegate
	Context string // Delegate
	Raw     string
}

// ParseDecision extracts the first decision marker from raw supervisor
// output. Unrecognized or malformed responses come back as Unparseable so the
// loop can feed the mistake back to the supervisor instead of aborting.
func ParseDecision(raw string) Decision {
	completedAt := strings.Index(raw, completedMarker)
	delegateAt := strings.Index(raw, delegateMarker)

	if completedAt >= 0 && (delegateAt < 0 || completedAt < delegateAt) {
		return Decision{
			Kind:    DecisionCompleted,
			Summary: strings.TrimSpace(restOfLine(raw[completedAt+len(completedMarker):])),
			Raw:     raw,
		}
	}
	if delegateAt >= 0 {
		if d, ok := parseDelegate(restOfLine(raw[delegateAt+len(delegateMarker):])); ok {
			d.Raw = raw
			return d
		}
	}
	return Decision{Kind: DecisionUnparseable, Raw: raw}
}

// parseDelegate parses "<name> | SUBTASK: <text> | CONTEXT: <text>".
func parseDelegate(line string) (Decision, bool) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return Decision{}, false
	}
	unit := strings.TrimSpace(parts[0])
	subtask, ok := strings.CutPrefix(strings.TrimSpace(parts[1]), subtaskField)
	if !ok {
		return Decision{}, false
	}
	contextText, ok := strings.CutPrefix(strings.TrimSpace(parts[2]), contextField)
	if !ok {
		return Decision{}, false
	}
	if unit == "" {
		return Decision{}, false
	}
	return Decision{
		Kind:    DecisionDelegate,
		Unit:    unit,
		Subtask: strings.TrimSpace(subtask),
		Context: strings.TrimSpace(contextText),
	}, true
}

func restOfLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
