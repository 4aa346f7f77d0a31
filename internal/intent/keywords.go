package intent

import (
	"regexp"
	"strings"
	"sync"
)

// keywordThreshold is the minimum score before a class wins; below it the
// query is unknown.
const keywordThreshold = 0.1

// Priority phrases strongly indicate an intent and score 2.0 each.
// Plain keywords score 1.0 on a whole-word match and 0.5 on a substring
// match. The total is normalized so five keyword hits saturate at 1.0.
var (
	policyPriority = []string{
		"can i", "am i allowed", "am i permitted", "is it allowed",
		"is it okay", "are we allowed", "policy",
	}
	policyKeywords = []string{
		"forbidden", "not allowed", "banned", "prohibited", "restricted",
		"rule", "must", "shall", "compliance",
		"usb", "flash drive", "portable", "removable", "sd card",
		"firewall", "vpn", "encryption", "mfa",
		"confidential", "pii", "encrypt",
	}

	procedurePriority = []string{
		"how do i", "how to", "how do you", "how can i", "steps to",
	}
	procedureKeywords = []string{
		"procedure", "process", "walkthrough", "guide",
		"request", "apply for", "submit", "fill out", "approval",
		"setup", "install", "configure", "set up", "initialization",
		"account", "login", "reset", "register",
		"laptop", "computer", "phone", "monitor", "keyboard", "device",
		"software", "application", "app", "tool", "license",
	}

	referencePriority = []string{
		"what is", "what are", "what does", "tell me about",
	}
	referenceKeywords = []string{
		"definition", "explain", "describe", "meaning",
		"about", "information", "details", "overview", "summary",
		"list", "options", "available", "approved", "allowed",
		"requirement", "requirements",
	}
)

// wholeWordPatterns caches compiled word-boundary regexps per keyword.
var wholeWordPatterns sync.Map

func matchesWholeWord(keyword, query string) bool {
	v, ok := wholeWordPatterns.Load(keyword)
	if !ok {
		v = regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
		wholeWordPatterns.Store(keyword, v)
	}
	return v.(*regexp.Regexp).MatchString(query)
}

// KeywordClassifier scores queries against a fixed lexicon. It needs no
// trained artifact and serves as the fallback when the model is absent.
type KeywordClassifier struct{}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier creates the lexicon-based classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scores the query against all three intents.
func (k *KeywordClassifier) Classify(query string) Classification {
	q := strings.ToLower(query)

	scores := map[Intent]float64{
		Policy:    scoreIntent(q, policyKeywords, policyPriority),
		Procedure: scoreIntent(q, procedureKeywords, procedurePriority),
		Reference: scoreIntent(q, referenceKeywords, referencePriority),
	}

	best := Policy
	for _, in := range []Intent{Procedure, Reference} {
		if scores[in] > scores[best] {
			best = in
		}
	}

	if scores[best] < keywordThreshold {
		return Classification{Intent: Unknown, Confidence: 1 - scores[best], Source: "keyword"}
	}
	return Classification{Intent: best, Confidence: scores[best], Source: "keyword"}
}

func scoreIntent(query string, keywords, priority []string) float64 {
	var total float64
	for _, phrase := range priority {
		if strings.Contains(query, phrase) {
			total += 2.0
		}
	}
	for _, kw := range keywords {
		if !strings.Contains(query, kw) {
			continue
		}
		if matchesWholeWord(kw, query) {
			total += 1.0
		} else {
			total += 0.5
		}
	}
	// Five keyword hits saturate confidence.
	return min(1.0, total/5.0)
}
