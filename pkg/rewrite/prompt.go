package rewrite

import (
	"fmt"
	"strings"

	"github.com/pario-ai/rephrase/pkg/gateway"
	"github.com/pario-ai/rephrase/pkg/models"
)

var modeInstructions = map[models.Mode]string{
	models.ModeFormal:   "Rewrite the text in a formal, business register.",
	models.ModeFriendly: "Rewrite the text in a warm and friendly conversational tone.",
	models.ModeConcise:  "Rewrite the text as briefly as possible without losing meaning.",
	models.ModeAcademic: "Rewrite the text in an academic style with precise wording.",
	models.ModeSimple:   "Rewrite the text in plain language that is easy to read.",
}

// BuildPrompt returns the generation prompt for rewriting masked text.
func BuildPrompt(req models.RewriteRequest, masked string) gateway.Prompt {
	var b strings.Builder
	b.WriteString("You are a text rewriting assistant. ")
	b.WriteString(modeInstructions[req.Mode])
	b.WriteString("\nRules:\n")
	b.WriteString("- Answer in the language of the input text.\n")
	b.WriteString("- Reply with the rewritten text only: no introduction, no comments, no quotes.\n")
	b.WriteString("- Tokens in square brackets such as [PHONE], [EMAIL] or [CARD] are placeholders. Copy each one verbatim.\n")
	if req.PreserveOriginalLanguageTokens {
		b.WriteString("- Keep words written in another language or script (names, brands, terms) exactly as they are.\n")
	}
	if req.MaxLength != nil {
		fmt.Fprintf(&b, "- The result must not exceed %d characters.\n", *req.MaxLength)
	}
	return gateway.Prompt{
		System: b.String(),
		User:   masked,
		Source: masked,
	}
}
