package history

import (
	"strconv"
	"unicode/utf8"

	"github.com/theamal11z/Rex68/internal/memory"
)

const (
	baseScore = 1.0

	recentTier      = 3
	midTier         = 8
	recentFactor    = 1.0
	midFactor       = 0.8
	olderFactor     = 0.5
	userRoleWeight  = 1.2
	emotionalFactor = 1.3

	charsPerToken = 4
)

// Scored is a message with its importance score and estimated token cost.
type Scored struct {
	Message memory.Message
	Score   float64
	Tokens  int
	// Index is the message's position in the original sequence.
	Index int
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(content string) int {
	n := utf8.RuneCountInString(content)
	return (n + charsPerToken - 1) / charsPerToken
}

// ScoreMessages scores each message by recency tier, author and emotional
// weight. mem may be nil.
func ScoreMessages(msgs []memory.Message, mem *memory.StructuredMemory) []Scored {
	out := make([]Scored, len(msgs))
	for i, msg := range msgs {
		fromEnd := len(msgs) - i

		score := baseScore
		switch {
		case fromEnd <= recentTier:
			score *= recentFactor
		case fromEnd <= midTier:
			score *= midFactor
		default:
			score *= olderFactor
		}
		if msg.IsFromUser {
			score *= userRoleWeight
		}
		if isEmotional(msg, mem) {
			score *= emotionalFactor
		}

		out[i] = Scored{Message: msg, Score: score, Tokens: EstimateTokens(msg.Content), Index: i}
	}
	return out
}

func isEmotional(msg memory.Message, mem *memory.StructuredMemory) bool {
	if mem == nil || msg.ID == 0 {
		return false
	}
	label, ok := mem.SentimentMap[strconv.FormatInt(msg.ID, 10)]
	return ok && label != memory.NeutralSentiment
}
