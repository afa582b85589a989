package router

import (
	"strings"
	"unicode"
)

// rule is one deterministic tier-1 strategy. Evaluate returns a
// definitive decision, or ok=false when the rule is inconclusive and
// the next rule should run.
type rule struct {
	name     string
	evaluate func(text string, meta Metadata) (Decision, bool)
}

// heuristicRules is the fixed priority order: the first definitive rule
// wins and the oracle tier is skipped entirely.
func heuristicRules() []rule {
	return []rule{
		{name: "addressed", evaluate: addressedRule},
		{name: "short-ack", evaluate: shortAckRule},
		{name: "question", evaluate: questionRule},
		{name: "problem", evaluate: problemRule},
		{name: "schedule", evaluate: scheduleRule},
	}
}

var ackPhrases = map[string]bool{
	"ok": true, "oke": true, "okay": true, "okey": true, "okie": true,
	"ya": true, "yes": true, "yup": true, "iya": true, "yoi": true,
	"sip": true, "siap": true, "noted": true, "done": true, "beres": true,
	"thanks": true, "thank you": true, "thx": true, "makasih": true,
	"terima kasih": true, "mantap": true, "nice": true, "keren": true,
	"good": true, "great": true, "halo": true, "hai": true, "hello": true,
	"hi": true, "pagi": true, "siang": true, "sore": true, "malam": true,
	"good morning": true, "good night": true, "selamat pagi": true,
	"selamat malam": true, "wkwk": true, "haha": true, "hehe": true,
}

var questionWords = []string{
	"gimana", "bagaimana", "kenapa", "mengapa", "kapan", "berapa",
	"apakah", "siapa", "dimana", "di mana", "apa",
	"what", "why", "when", "how", "where", "who", "which", "can you",
	"could you", "bisa tolong", "bisakah",
}

var problemWords = []string{
	"masalah", "kendala", "problem", "issue", "error", "gagal", "rusak",
	"urgent", "darurat", "tolong", "help", "stuck", "blocked", "macet",
	"bocor", "telat", "delay", "komplain", "complaint", "salah", "broken",
	"bug", "down", "hilang",
}

var scheduleWords = []string{
	"ingatkan", "ingetin", "reminder", "remind", "jadwal", "schedule",
	"meeting", "rapat", "besok", "tomorrow", "lusa", "deadline",
	"jangan lupa", "jam berapa", "appointment", "janji",
}

// addressedRule: an explicit address to the assistant always passes.
func addressedRule(text string, meta Metadata) (Decision, bool) {
	if meta.Mentioned {
		return Decision{
			Action:     ActionPass,
			Confidence: 1.0,
			Reason:     "explicitly addressed",
			Method:     MethodHeuristic,
		}, true
	}
	return Decision{}, false
}

// shortAckRule: very short acknowledgements, greetings and praise carry
// no signal and are ignored without spending an oracle call.
func shortAckRule(text string, meta Metadata) (Decision, bool) {
	norm := normalize(text)
	if norm == "" {
		return Decision{Action: ActionIgnore, Confidence: 1.0, Reason: "empty message", Method: MethodHeuristic}, true
	}
	tokens := strings.Fields(norm)
	if len(tokens) > 3 {
		return Decision{}, false
	}
	if ackPhrases[norm] {
		return Decision{Action: ActionIgnore, Confidence: 0.9, Reason: "short acknowledgement", Method: MethodHeuristic}, true
	}
	all := true
	for _, tok := range tokens {
		if !ackPhrases[tok] {
			all = false
			break
		}
	}
	if all {
		return Decision{Action: ActionIgnore, Confidence: 0.85, Reason: "short acknowledgement", Method: MethodHeuristic}, true
	}
	return Decision{}, false
}

func questionRule(text string, meta Metadata) (Decision, bool) {
	if strings.Contains(text, "?") {
		return Decision{Action: ActionPass, Confidence: 0.85, Reason: "question marker", Method: MethodHeuristic}, true
	}
	if containsAnyWord(text, questionWords) {
		return Decision{Action: ActionPass, Confidence: 0.75, Reason: "question keyword", Method: MethodHeuristic}, true
	}
	return Decision{}, false
}

func problemRule(text string, meta Metadata) (Decision, bool) {
	if containsAnyWord(text, problemWords) {
		return Decision{Action: ActionPass, Confidence: 0.85, Reason: "problem keyword", Method: MethodHeuristic}, true
	}
	return Decision{}, false
}

func scheduleRule(text string, meta Metadata) (Decision, bool) {
	if containsAnyWord(text, scheduleWords) {
		return Decision{Action: ActionPass, Confidence: 0.8, Reason: "scheduling keyword", Method: MethodHeuristic}, true
	}
	return Decision{}, false
}

func normalize(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func containsAnyWord(text string, words []string) bool {
	norm := " " + normalize(text) + " "
	for _, w := range words {
		if strings.Contains(norm, " "+w+" ") {
			return true
		}
	}
	return false
}
