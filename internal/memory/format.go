package memory

import (
	"fmt"
	"sort"
	"strings"
)

const (
	preferenceConfidenceFloor = 0.6
	promptTopicRelevanceFloor = 0.3
	promptTopicLimit          = 5
	promptEmotionLimit        = 3
	promptInteractionLimit    = 3
)

// FormatMemoryForPrompt renders the memory as a prompt section.
func FormatMemoryForPrompt(mem *StructuredMemory) string {
	if mem == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("USER MEMORY CONTEXT:\n")

	var prefs []string
	for _, key := range sortedKeys(mem.Preferences) {
		p := mem.Preferences[key]
		if p.Confidence > preferenceConfidenceFloor {
			prefs = append(prefs, "- Prefers "+p.Value)
		}
	}
	writeSection(&sb, "Preferences", prefs)

	var topics []string
	for _, t := range topicsByRelevance(mem) {
		if t.Relevance <= promptTopicRelevanceFloor {
			continue
		}
		topics = append(topics, fmt.Sprintf("- %s (sentiment: %s, mentioned %d times)", t.Name, t.Sentiment, t.Mentions))
		if len(topics) == promptTopicLimit {
			break
		}
	}
	writeSection(&sb, "Topics of Interest", topics)

	emotions := make([]Emotion, 0, len(mem.Emotions))
	for _, e := range mem.Emotions {
		emotions = append(emotions, e)
	}
	sort.Slice(emotions, func(i, j int) bool {
		if emotions[i].Intensity != emotions[j].Intensity {
			return emotions[i].Intensity > emotions[j].Intensity
		}
		return emotions[i].Type < emotions[j].Type
	})
	var emotionLines []string
	for i, e := range emotions {
		if i == promptEmotionLimit {
			break
		}
		emotionLines = append(emotionLines, fmt.Sprintf("- Shows %s when discussing: %s", e.Type, strings.Join(e.Triggers, ", ")))
	}
	writeSection(&sb, "Emotional Patterns", emotionLines)

	var recent []string
	for _, in := range lastInteractions(mem.Interactions, promptInteractionLimit) {
		recent = append(recent, fmt.Sprintf("- %s: %s (%s)", in.Timestamp.Format("2006-01-02"), in.Summary, in.Sentiment))
	}
	writeSection(&sb, "Recent Interactions", recent)

	fmt.Fprintf(&sb, "Current Emotional State: %s\n", mem.Sentiment)
	if mem.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", mem.Notes)
	}
	return sb.String()
}

// RelevantMemories renders only the parts of memory that relate to message,
// falling back to the full rendering when the message has no topics.
func RelevantMemories(mem *StructuredMemory, message string) string {
	if mem == nil {
		return ""
	}
	current := ExtractTopics(message)
	if len(current) == 0 {
		return FormatMemoryForPrompt(mem)
	}

	var matching []Topic
	for _, t := range topicsByRelevance(mem) {
		for _, c := range current {
			if t.Name == c || strings.Contains(t.Name, c) || strings.Contains(c, t.Name) {
				matching = append(matching, t)
				break
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("RELEVANT USER MEMORY:\n")

	var topicLines []string
	for _, t := range matching {
		topicLines = append(topicLines, fmt.Sprintf("- %s: mentioned %d times, sentiment: %s", t.Name, t.Mentions, t.Sentiment))
	}
	writeSection(&sb, "Related Topics", topicLines)

	var related []Interaction
	for _, in := range mem.Interactions {
		for _, t := range matching {
			if strings.Contains(in.Summary, t.Name) {
				related = append(related, in)
				break
			}
		}
	}
	var interactionLines []string
	for _, in := range lastInteractions(related, promptInteractionLimit) {
		interactionLines = append(interactionLines, fmt.Sprintf("- %s (%s)", in.Summary, in.Sentiment))
	}
	writeSection(&sb, "Related Interactions", interactionLines)

	fmt.Fprintf(&sb, "Current Sentiment: %s\n", mem.Sentiment)
	return sb.String()
}

// MemoryItems flattens memory into candidate lines for relevance filtering.
func MemoryItems(mem *StructuredMemory) []string {
	if mem == nil {
		return nil
	}
	items := make([]string, 0, len(mem.Topics)+len(mem.Interactions)+len(mem.Preferences))
	for _, t := range topicsByRelevance(mem) {
		items = append(items, fmt.Sprintf("Topic %s (relevance %.2f, sentiment %s, mentioned %d times)", t.Name, t.Relevance, t.Sentiment, t.Mentions))
	}
	for _, key := range sortedKeys(mem.Preferences) {
		p := mem.Preferences[key]
		items = append(items, fmt.Sprintf("Preference %s: %s (confidence %.2f)", key, p.Value, p.Confidence))
	}
	for i := len(mem.Interactions) - 1; i >= 0; i-- {
		in := mem.Interactions[i]
		items = append(items, fmt.Sprintf("Interaction %s: %s (%s)", in.Timestamp.Format("2006-01-02"), in.Summary, in.Sentiment))
	}
	if mem.Notes != "" {
		items = append(items, "Notes: "+mem.Notes)
	}
	return items
}

func writeSection(sb *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	sb.WriteString(title)
	sb.WriteString(":\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n")
}

func topicsByRelevance(mem *StructuredMemory) []Topic {
	topics := make([]Topic, 0, len(mem.Topics))
	for _, t := range mem.Topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Relevance != topics[j].Relevance {
			return topics[i].Relevance > topics[j].Relevance
		}
		return topics[i].Name < topics[j].Name
	})
	return topics
}

func lastInteractions(in []Interaction, n int) []Interaction {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
