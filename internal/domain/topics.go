package domain

import "strings"

// MaxTopics bounds the number of topics kept per journal.
const MaxTopics = 8

// Topics is a deduplicated, length-bounded topic list in extraction order.
type Topics []string

// NormalizeTopics trims and lower-cases each topic, drops blanks and
// duplicates (first occurrence wins) and caps the result at MaxTopics.
func NormalizeTopics(raw []string) Topics {
	out := Topics{}
	seen := make(map[string]bool, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}

func (t Topics) String() string {
	return strings.Join(t, ", ")
}
