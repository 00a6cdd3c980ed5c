package hooks

import (
	"fmt"

	"github.com/tarsy-run/tarsy/pkg/models"
)

// MaxLLMMessageContentSize is MAX_LLM_MESSAGE_CONTENT_SIZE (spec.md §6),
// the per-message cap applied to user-role messages before persistence.
// 1 MiB, matching the spec's example.
const MaxLLMMessageContentSize = 1 << 20

// TruncateConversation returns a new conversation (the input is never
// mutated) where every user-role message whose content exceeds
// MaxLLMMessageContentSize has its tail replaced by a marker recording the
// original and truncated sizes. System and assistant messages pass through
// unchanged — assistant messages may summarize large tool output that
// downstream consumers need intact (spec.md §3, §4.1, §8 invariants 4-5).
func TruncateConversation(conv []models.ConversationMessage) []models.ConversationMessage {
	out := make([]models.ConversationMessage, len(conv))
	for i, m := range conv {
		if m.Role != models.RoleUser || len(m.Content) <= MaxLLMMessageContentSize {
			out[i] = m
			continue
		}
		out[i] = models.ConversationMessage{
			Role:    m.Role,
			Content: truncateContent(m.Content),
		}
	}
	return out
}

// truncateContent keeps the leading MaxLLMMessageContentSize characters and
// appends a marker of the form:
//   [HOOK TRUNCATED - Original size: <N> chars, Hook size: <M> chars]
func truncateContent(content string) string {
	original := len(content)
	kept := content[:MaxLLMMessageContentSize]
	marker := fmt.Sprintf("[HOOK TRUNCATED - Original size: %d chars, Hook size: %d chars]", original, MaxLLMMessageContentSize)
	return kept + marker
}
