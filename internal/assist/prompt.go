package assist

import (
	"fmt"
	"strings"

	"studyassist/internal/domain"
)

const snippetLimit = 160

const groundedSystemPrompt = "You are a study assistant. Answer using only the " +
	"provided course material excerpts. Cite the source name and page for every " +
	"claim you take from them. If the excerpts don't cover the question, say so."

const generalSystemPrompt = "You are a study assistant. Answer from general " +
	"knowledge, clearly and at a student's level. Do not invent citations to " +
	"course material."

// SystemPrompt picks the system instruction for a grounding decision.
func SystemPrompt(grounded bool) string {
	if grounded {
		return groundedSystemPrompt
	}
	return generalSystemPrompt
}

// ContextBlock renders retrieval hits as the context section of a prompt.
func ContextBlock(hits []domain.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Course material\n\n")
	for i, h := range hits {
		fmt.Fprintf(&sb, "### %s (p. %d)\n", h.Source, h.Page)
		sb.WriteString(h.Text)
		if i < len(hits)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}

// CitationsFromHits pre-populates a conversation's citations from retrieval,
// before any metadata frame from the model can override them.
func CitationsFromHits(hits []domain.Hit) []domain.Citation {
	if len(hits) == 0 {
		return nil
	}
	cites := make([]domain.Citation, len(hits))
	for i, h := range hits {
		cites[i] = domain.Citation{
			Source:  h.Source,
			Page:    h.Page,
			Score:   h.Score,
			Snippet: snippet(h.Text),
		}
	}
	return cites
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetLimit {
		return text
	}
	cut := strings.LastIndex(text[:snippetLimit], " ")
	if cut < snippetLimit/2 {
		cut = snippetLimit
	}
	return text[:cut] + "…"
}
