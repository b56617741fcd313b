package threat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	toolAgents = []string{
		"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests",
		"postman", "insomnia", "httpie",
	}

	cannedMessages = map[string]bool{
		"test": true, "hello": true, "hi": true, "123": true, "abc": true,
		"test message": true, "automated test": true, "bot test": true,
	}

	urlMarkers = []string{"http://", "https://", "www.", ".com", ".org", ".net"}

	spamKeywords = []string{
		"free", "win", "prize", "money", "cash", "discount", "offer",
		"limited time", "act now", "click here", "buy now",
	}
)

// Signal is one heuristic verdict.
type Signal struct {
	Indicators []string
	Confidence int
	Likely     bool
}

func (s *Signal) add(indicator string, weight int) {
	s.Indicators = append(s.Indicators, indicator)
	s.Confidence += weight
}

// Report combines the bot and spam heuristics for one message. It is
// advisory; nothing is rejected because of it.
type Report struct {
	Bot  Signal
	Spam Signal
}

// Inspect runs the content heuristics over a user agent and message.
func Inspect(userAgent, message string) Report {
	return Report{
		Bot:  DetectBot(userAgent, message),
		Spam: DetectSpam(message),
	}
}

// DetectBot flags tool user agents and throwaway test messages.
// Likely is set above a confidence of 50.
func DetectBot(userAgent, message string) Signal {
	var s Signal

	ua := strings.ToLower(userAgent)
	for _, marker := range toolAgents {
		if strings.Contains(ua, marker) {
			s.add("suspicious_user_agent", 40)
			break
		}
	}

	n := utf8.RuneCountInString(message)
	if n < 5 {
		s.add("very_short_message", 10)
	}

	distinct := make(map[rune]struct{})
	for _, r := range strings.ToLower(message) {
		distinct[r] = struct{}{}
	}
	if float64(len(distinct)) < float64(n)*0.3 {
		s.add("repeated_characters", 20)
	}

	if cannedMessages[strings.ToLower(strings.TrimSpace(message))] {
		s.add("bot_test_message", 30)
	}

	s.Likely = s.Confidence > 50
	return s
}

// DetectSpam flags link-heavy, shouting, or promotional messages.
// Likely is set above a confidence of 40.
func DetectSpam(message string) Signal {
	var s Signal
	lower := strings.ToLower(message)
	n := utf8.RuneCountInString(message)

	urls := 0
	for _, marker := range urlMarkers {
		if strings.Contains(lower, marker) {
			urls++
		}
	}
	if urls > 2 {
		s.add("multiple_urls", 30)
	}

	upper, punct := 0, 0
	for _, r := range message {
		if unicode.IsUpper(r) {
			upper++
		}
		if strings.ContainsRune("!?.,;:", r) {
			punct++
		}
	}
	if float64(upper) > float64(n)*0.5 {
		s.add("excessive_caps", 20)
	}

	keywords := 0
	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			keywords++
		}
	}
	if keywords > 2 {
		s.add("spam_keywords", 25)
	}

	if float64(punct) > float64(n)*0.3 {
		s.add("excessive_punctuation", 15)
	}

	s.Likely = s.Confidence > 40
	return s
}
