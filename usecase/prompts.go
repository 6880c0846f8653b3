package usecase

import (
	"fmt"
	"strings"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// NoCommentToken is what the model answers when a frame needs no remark
const NoCommentToken = "NO_COMMENT"

const chatSystemPrompt = `You are a live screen companion. The user shares their screen and talks to you.
Answer conversationally in two or three short sentences that read well aloud.
When a screenshot is attached, ground your answer in what is visible on it.`

func analysisSystemPrompt(sensitivity entities.Sensitivity) string {
	var threshold string
	switch sensitivity {
	case entities.SensitivityHigh:
		threshold = "Comment on any meaningful change, detail or opportunity to help."
	case entities.SensitivityLow:
		threshold = "Only comment when something clearly important happens, such as an error, a warning or a finished task."
	default:
		threshold = "Comment when something noteworthy or useful appears."
	}

	return fmt.Sprintf(`You are watching a live screen share, one screenshot at a time.
%s
Keep a comment to one or two short sentences and do not repeat earlier remarks.
If nothing deserves a comment, reply with exactly %s.`, threshold, NoCommentToken)
}

// historyFrom converts conversation messages into chat history. System
// messages are local notes and never leave the session.
func historyFrom(messages []entities.Message) []repositories.ChatMessage {
	history := make([]repositories.ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Type {
		case entities.MessageTypeUser:
			history = append(history, repositories.ChatMessage{Role: repositories.UserRole, Content: m.Content})
		case entities.MessageTypeAssistant:
			history = append(history, repositories.ChatMessage{Role: repositories.AssistantRole, Content: m.Content})
		}
	}
	return history
}

// isNoComment reports whether a model answer declines to comment
func isNoComment(answer string) bool {
	trimmed := strings.Trim(strings.TrimSpace(answer), ".\"'`")
	return trimmed == "" || strings.EqualFold(trimmed, NoCommentToken)
}
