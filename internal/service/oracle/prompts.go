package oracle

import (
	"fmt"
	"strings"
)

// topicExtractionPrompt asks for a stable three-level topic assignment.
// Topic names are stance-free by contract: an idea for and an idea against
// the same issue must land in the same topic.
const topicExtractionPrompt = `You are a topic taxonomist for short opinion sentences.
Assign each idea a three-level topic hierarchy:
- level1: a broad domain (e.g. "health", "work culture", "seasons").
- level2: a stable subdomain within level1.
- level3: the specific issue the idea is about.
Rules:
- Topic names must be neutral. Never encode sentiment or stance: ideas
  supporting and opposing the same issue share the exact same names.
- Reuse stable level2/level3 names for recurring issues.
- Keep names short and lowercase.
Output JSON only with keys: level1, level2, level3.`

func hierarchyUserPrompt(text string) string {
	return fmt.Sprintf(`Idea: %s

Instructions:
- Reuse stable level2/level3 names.
- Do NOT include sentiment in topic names.
- Same topic even if stance differs.

Return JSON only.`, text)
}

// relationPrompt judges the direction of a pair of ideas.
const relationPrompt = `You classify the relation between two short ideas. ` +
	`Return JSON only with keys relation_label and confidence. ` +
	`relation_label must be one of: support, oppose, neutral.`

func relationUserPrompt(seedText, candidateText string, topicPath []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seed idea:\n%s\n\nCandidate idea:\n%s\n\n", seedText, candidateText)
	if len(topicPath) > 0 {
		fmt.Fprintf(&b, "Topic context: %s\n\n", strings.Join(topicPath, " / "))
	}
	b.WriteString("Classify whether candidate supports, opposes, or is neutral to the seed idea.")
	return b.String()
}

// parentRouterPrompt routes an idea to an existing topic or NEW.
const parentRouterPrompt = `You are a strict topic router. Choose one existing topic name ` +
	`if it is clearly the same underlying issue. Otherwise return NEW. ` +
	`Output JSON only with keys: selected_topic_name, confidence.`

func parentRouterUserPrompt(text, label string, candidates []TopicCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Idea: %s\nSuggested topic_label: %s\nCandidate existing topics:\n", text, label)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (sim=%.3f)\n", c.Name, c.Similarity)
	}
	b.WriteString("\nReturn selected_topic_name as exact candidate name or NEW.")
	return b.String()
}
