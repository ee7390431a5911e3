package usecase

import (
	"fmt"
	"strings"

	"research-client/internal/domain/model"
)

// BuildPrompt turns research parameters into the task text sent to the agent.
func BuildPrompt(p model.ResearchParams) string {
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = strings.TrimSpace(p.Topic)
	}
	fmt.Fprintf(&b, "Research task: %s\n", name)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(p.Topic))
	if p.Framework != "" {
		fmt.Fprintf(&b, "Analysis framework: %s\n", p.Framework)
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	depth := p.Depth
	if depth == "" {
		depth = "standard"
	}
	fmt.Fprintf(&b, "Depth: %s\n", depth)
	if len(p.DocumentIDs) > 0 {
		fmt.Fprintf(&b, "Reference documents: %s\n", strings.Join(p.DocumentIDs, ", "))
	}
	if p.WorkspaceID != "" {
		fmt.Fprintf(&b, "Save the resulting document to workspace %s.\n", p.WorkspaceID)
	}
	b.WriteString("\nSearch current sources, record your findings and write the final report as a document.")
	return b.String()
}

// buildChatTask embeds prior turns ahead of the new question.
func buildChatTask(contextKey string, prior []model.ChatMessage, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s\n", contextKey)
	if len(prior) > 0 {
		b.WriteString("\nPrevious conversation:\n")
		for _, m := range prior {
			role := "User"
			if m.Role == model.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}
