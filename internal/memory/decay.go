package memory

import (
	"math"
	"time"
)

const (
	// DefaultDecayRate keeps 90% of a topic's relevance per idle day.
	DefaultDecayRate  = 0.9
	MinTopicRelevance = 0.1

	unknownAgeDays = 365
)

// ApplyDecay decays topic relevance by rate^days since the topic was last
// discussed and drops topics that fall below MinTopicRelevance. Preferences,
// emotions and interactions are left untouched.
func ApplyDecay(mem *StructuredMemory, now time.Time, rate float64) {
	if mem == nil {
		return
	}
	for name, topic := range mem.Topics {
		days := daysSince(topic.LastDiscussed, now)
		topic.Relevance = clamp01(topic.Relevance * math.Pow(rate, days))
		if topic.Relevance < MinTopicRelevance {
			delete(mem.Topics, name)
			continue
		}
		mem.Topics[name] = topic
	}
}

// CalculateMemoryHealth blends interaction recency with mean topic relevance
// into a [0,1] diagnostic score.
func CalculateMemoryHealth(mem *StructuredMemory, now time.Time, rate float64) float64 {
	if mem == nil {
		return 0
	}
	recency := 1.0
	if !mem.LastInteraction.IsZero() {
		recency = math.Pow(rate, daysSince(mem.LastInteraction, now))
	}

	avg := 0.0
	if len(mem.Topics) > 0 {
		sum := 0.0
		for _, topic := range mem.Topics {
			sum += topic.Relevance
		}
		avg = sum / float64(len(mem.Topics))
	}
	return clamp01((recency + avg) / 2)
}

func daysSince(t time.Time, now time.Time) float64 {
	if t.IsZero() {
		return unknownAgeDays
	}
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
