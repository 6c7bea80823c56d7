package tone

import (
	"fmt"
	"strings"
)

const conversionPromptTemplate = `Rewrite the following marketing text to match a %s tone.

Tone characteristics:
%s

Specific style elements to incorporate:
%s

Example of the target tone:
"%s"

Follow these additional formatting rules:
1. Do not use ALL CAPS for emphasis
2. Use at most one exclamation point per paragraph (except for genz tone)
3. Keep bullet points consistent using the • symbol
4. Aim for sentences with 20 words or fewer (can be more flexible with genz tone)

Original text:
"%s"

Rewritten text in %s tone:`

// buildConversionPrompt assembles the rewrite instruction for a profile
func buildConversionPrompt(text string, profile Profile) string {
	return fmt.Sprintf(conversionPromptTemplate,
		profile.Name,
		profile.Description,
		FormatCharacteristics(profile.Characteristics),
		profile.Example,
		text,
		profile.Name,
	)
}

// FormatCharacteristics renders a characteristics list as prompt bullet lines
func FormatCharacteristics(characteristics []string) string {
	lines := make([]string, 0, len(characteristics))
	for _, c := range characteristics {
		lines = append(lines, "- "+c)
	}
	return strings.Join(lines, "\n")
}
