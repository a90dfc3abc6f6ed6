package kernel

import "github.com/gramloop/gramloop/wire"

// HistoryStrategy bounds history growth between turns. Trim must be pure
// and must preserve the role and tool-call-id correlation invariants: a
// surviving tool-role message implies its issuing assistant message also
// survives.
type HistoryStrategy interface {
	Trim(messages []wire.Message) []wire.Message
}

// KeepAllHistory never trims.
type KeepAllHistory struct{}

func (KeepAllHistory) Trim(messages []wire.Message) []wire.Message { return messages }

// SlidingWindowHistory keeps every leading system and developer message
// plus the most recent MaxGroups turn groups. A group is a user message,
// or an assistant message together with the tool-role messages that answer
// its calls, so correlation is never split.
type SlidingWindowHistory struct {
	MaxGroups int
}

// Trim applies the sliding window.
func (s SlidingWindowHistory) Trim(messages []wire.Message) []wire.Message {
	if s.MaxGroups <= 0 {
		return messages
	}

	// Leading instruction block stays verbatim.
	lead := 0
	for lead < len(messages) {
		role := messages[lead].Role
		if role != wire.RoleSystem && role != wire.RoleDeveloper {
			break
		}
		lead++
	}

	groups := groupMessages(messages[lead:])
	if len(groups) <= s.MaxGroups {
		return messages
	}

	trimmed := make([]wire.Message, 0, len(messages))
	trimmed = append(trimmed, messages[:lead]...)
	for _, g := range groups[len(groups)-s.MaxGroups:] {
		trimmed = append(trimmed, g...)
	}
	return trimmed
}

// groupMessages splits conversation messages into groups that must survive
// or be dropped together.
func groupMessages(messages []wire.Message) [][]wire.Message {
	var groups [][]wire.Message
	for i := 0; i < len(messages); {
		msg := messages[i]
		if msg.Role == wire.RoleAssistant && len(msg.ToolCalls) > 0 {
			j := i + 1
			for j < len(messages) && messages[j].Role == wire.RoleTool {
				j++
			}
			groups = append(groups, messages[i:j])
			i = j
			continue
		}
		groups = append(groups, messages[i:i+1])
		i++
	}
	return groups
}
