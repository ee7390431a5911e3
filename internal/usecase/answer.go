package usecase

import (
	"regexp"
	"strings"
)

// agentAnswerRe captures the body of the "3. Agent Answer:" section up to the
// next section heading or end of text. A heading is a number of 4 or more with a
// dot, at line start or right after bold/underline markup, so numbered lists
// inside the answer ("1. Open account: now") stay in the body. Markup around the
// numeral, the title or the colon is tolerated.
var agentAnswerRe = regexp.MustCompile(
	`(?ims)(?:^|[^0-9])3\.\s*(?:\*\*|__)?\s*agent answer\s*(?:\*\*|__)?\s*:\s*(?:\*\*|__)?` +
		`(.*?)` +
		`(?:(?:^[ \t]*(?:\*\*|__)?|\*\*|__)\s*(?:[4-9]|[1-9][0-9]+)\.(?:\s|\*\*|__)|\z)`)

// ExtractAnswer returns the agent-answer section of a multi-section reply.
// Without the marker, or with an empty section, the whole input is the answer.
func ExtractAnswer(msg string) string {
	m := agentAnswerRe.FindStringSubmatch(msg)
	if m == nil {
		return msg
	}
	ans := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), "*_"))
	if ans == "" {
		return msg
	}
	return ans
}
