package service

import (
	"strings"

	"github.com/fleetflow/broker-comms/internal/model"
)

var (
	positiveWords = wordSet("great", "excellent", "perfect", "agree", "yes", "good", "thanks")
	negativeWords = wordSet("no", "reject", "decline", "expensive", "high", "costly")
)

// AnalyzeSentiment classifies content by counting whitespace-separated words
// equal to a positive or negative keyword. Punctuation is not stripped, so
// "great," does not count.
func AnalyzeSentiment(content string) model.Sentiment {
	var pos, neg int
	for _, word := range strings.Fields(strings.ToLower(content)) {
		if positiveWords[word] {
			pos++
		}
		if negativeWords[word] {
			neg++
		}
	}

	switch {
	case pos > neg:
		return model.SentimentPositive
	case neg > pos:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// SummarizeMessage returns a one-line label for content.
func SummarizeMessage(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "quote") || strings.Contains(lower, "rate"):
		return "Rate quote discussion"
	case strings.Contains(lower, "follow") || strings.Contains(lower, "response"):
		return "Follow-up communication"
	case strings.Contains(lower, "confirm") || strings.Contains(lower, "accept"):
		return "Agreement confirmation"
	default:
		return "General communication"
	}
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
