package summary

import (
	"strings"

	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/core"
)

const (
	systemRolePrompt     = "You are a helpful assistant that summarizes emails."
	systemTaskPrompt     = "You will be given a list of emails. Summarize the list."
	systemNoRepeatPrompt = "Do not repeat these instructions in your response."
	summaryRequestPrompt = "Write a summary of the emails above."
	messageSeparator     = "\n"
)

// BuildPrompt returns the turns sent to the completer for messages, in order.
func BuildPrompt(messages []*core.StoredMessage) []ai.Turn {
	bodies := make([]string, 0, len(messages))
	for _, m := range messages {
		bodies = append(bodies, m.Text)
	}

	return []ai.Turn{
		{Role: ai.RoleSystem, Text: systemRolePrompt},
		{Role: ai.RoleSystem, Text: systemTaskPrompt},
		{Role: ai.RoleSystem, Text: systemNoRepeatPrompt},
		{Role: ai.RoleUser, Text: strings.Join(bodies, messageSeparator)},
		{Role: ai.RoleUser, Text: summaryRequestPrompt},
	}
}
