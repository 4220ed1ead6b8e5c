package dialog

import (
	"fmt"
	"strings"

	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/persona"
)

// FallbackLine is spoken when no reply could be generated in time.
const FallbackLine = "I understand you need assistance. Let me take a note for you and someone will get back to you soon."

// BuildInstruction assembles the system instruction for one turn from the
// persona, the briefing and the objectives still open.
func BuildInstruction(p persona.Persona, cc callctx.CallContext) string {
	var b strings.Builder

	if cc.Outbound {
		fmt.Fprintf(&b, "You are an AI assistant making a phone call on behalf of %s.\n", p.DisplayName)
	} else {
		fmt.Fprintf(&b, "You are an AI assistant answering the phone for %s.\n", p.DisplayName)
	}
	if p.DialogInstructions != "" {
		b.WriteString(p.DialogInstructions)
		b.WriteString("\n")
	}

	if briefing := strings.TrimSpace(cc.Briefing); briefing != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", briefing)
	}

	if pending := cc.Pending(); len(pending) > 0 {
		b.WriteString("\nYour objectives for this call are:\n")
		for _, o := range pending {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(o.Task))
		}
	}

	b.WriteString(`
Instructions:
- Your reply is spoken aloud on a phone call. Use plain sentences, no lists or markup.
- Keep responses conversational and under 100 words.
- Ask for clarification if needed and don't make assumptions about personal information.
- Offer to take a message when you cannot help directly.`)
	if cc.Outbound {
		b.WriteString("\n- Work towards the objectives. Once they are accomplished, thank the person for their time and say goodbye.")
	} else {
		b.WriteString("\n- When the caller has what they need, say goodbye.")
	}

	return b.String()
}
