package usecase

import "strings"

const (
	StatusResearching = "Researching…"
	StatusFinalizing  = "Finalizing…"
	StatusStarting    = "Starting…"
)

var buckets = []struct {
	label string
	stems []string
}{
	{StatusResearching, []string{"search", "finding", "looking"}},
	{StatusFinalizing, []string{"writ", "compil", "generat", "upload"}},
	{StatusStarting, []string{"start", "initializ", "plan"}},
}

// BucketStatus maps free-text progress narration to a coarse label.
// ok is false when nothing matches; callers keep their current label then.
func BucketStatus(text string) (label string, ok bool) {
	lower := strings.ToLower(text)
	for _, bk := range buckets {
		for _, stem := range bk.stems {
			if strings.Contains(lower, stem) {
				return bk.label, true
			}
		}
	}
	return "", false
}
