// Package experts implements the Expert & Prompt Selector (C4): persona
// switching and prompt template scoring, grounded on
// internal/agent/routing/router.go's declarative scoring-table pattern
// (weighted rule evaluation over a small config-driven table) adapted from
// provider routing to persona/template selection.
package experts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// simpleGreetings is the closed set of greeting tokens from spec.md §4.4.
var simpleGreetings = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "yo": {}, "sup": {},
	"good morning": {}, "good afternoon": {}, "good evening": {},
}

// IsSimpleGreeting reports whether msg is a closed-set greeting token or
// begins with a greeting prefix.
func IsSimpleGreeting(msg string) bool {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	if _, ok := simpleGreetings[normalized]; ok {
		return true
	}
	for greeting := range simpleGreetings {
		if strings.HasPrefix(normalized, greeting+" ") || strings.HasPrefix(normalized, greeting+",") {
			return true
		}
	}
	return false
}

// SwitchPhraseTrigger maps a keyword family to the persona it switches to
// when the message contains an explicit switch phrase ("switch to X",
// "use X", "need X").
type SwitchPhraseTrigger struct {
	Keyword   string
	PersonaID string
}

// TopicTrigger maps a topic keyword to a persona, used for trailing-window
// topic dominance (rule 2) and business-health issue routing (rule 4).
type TopicTrigger struct {
	Topic     string
	PersonaID string
}

// ProfileSnapshot is the minimal user profile/business-health state the
// selector needs.
type ProfileSnapshot struct {
	CompletenessPercent float64
	BusinessIssues      []string // ordered by priority; first is used by rule 4
}

// SelectionInput is everything the selector needs for one turn.
type SelectionInput struct {
	ConversationID  string
	Message         string
	History         []*models.Message // prior messages, oldest first
	CurrentPersona  string
	Profile         ProfileSnapshot
	SwitchPhrases   []SwitchPhraseTrigger
	TopicTriggers   []TopicTrigger
	IdentityPersona string // persona id for rule 3
	DefaultPersona  string // persona id for rule 5
}

// trailingWindowSize is the number of recent messages examined for topic
// dominance (spec.md §4.4 rule 2).
const trailingWindowSize = 5

// topicDominanceThreshold is the minimum mention count within the trailing
// window for a topic to be considered dominant.
const topicDominanceThreshold = 3

// SelectPersona implements spec.md §4.4's rule a., in order.
func SelectPersona(in SelectionInput) models.SwitchDecision {
	isFirstTurn := len(in.History) == 0

	if phrase, persona, ok := matchSwitchPhrase(in.Message, in.SwitchPhrases); ok {
		return decide(in, persona, fmt.Sprintf("explicit switch phrase: %q", phrase), nil)
	}
	if isFirstTurn {
		return decide(in, in.CurrentPersona, "first turn, no explicit switch", nil)
	}

	if topic, persona, ok := dominantTopic(in.History, in.Message, in.TopicTriggers); ok {
		return decide(in, persona, fmt.Sprintf("topic %q dominant in trailing window", topic), []string{topic})
	}

	if in.Profile.CompletenessPercent < 50 && !IsSimpleGreeting(in.Message) && len(in.History)+1 >= 3 {
		return decide(in, in.IdentityPersona, "profile completeness below 50%", nil)
	}

	if len(in.Profile.BusinessIssues) > 0 {
		issue := in.Profile.BusinessIssues[0]
		return decide(in, personaForIssue(in.TopicTriggers, issue, in.DefaultPersona), "business-health issue: "+issue, nil)
	}

	return decide(in, in.DefaultPersona, "default persona", nil)
}

func decide(in SelectionInput, newPersona, reason string, topics []string) models.SwitchDecision {
	return models.SwitchDecision{
		ConversationID:  in.ConversationID,
		OldPersona:      in.CurrentPersona,
		NewPersona:      newPersona,
		Reason:          reason,
		ConversationLen: len(in.History) + 1,
		Topics:          topics,
	}
}

func matchSwitchPhrase(message string, triggers []SwitchPhraseTrigger) (string, string, bool) {
	lower := strings.ToLower(message)
	hasSwitchVerb := strings.Contains(lower, "switch to") || strings.Contains(lower, "use ") || strings.Contains(lower, "need ")
	if !hasSwitchVerb {
		return "", "", false
	}
	for _, t := range triggers {
		if strings.Contains(lower, strings.ToLower(t.Keyword)) {
			return t.Keyword, t.PersonaID, true
		}
	}
	return "", "", false
}

func dominantTopic(history []*models.Message, incoming string, triggers []TopicTrigger) (string, string, bool) {
	window := trailingWindow(history, incoming, trailingWindowSize)
	for _, t := range triggers {
		count := 0
		for _, msg := range window {
			if strings.Contains(strings.ToLower(msg), strings.ToLower(t.Topic)) {
				count++
			}
		}
		if count >= topicDominanceThreshold {
			return t.Topic, t.PersonaID, true
		}
	}
	return "", "", false
}

func trailingWindow(history []*models.Message, incoming string, size int) []string {
	all := make([]string, 0, len(history)+1)
	for _, m := range history {
		all = append(all, m.Content)
	}
	all = append(all, incoming)
	if len(all) > size {
		all = all[len(all)-size:]
	}
	return all
}

func personaForIssue(triggers []TopicTrigger, issue, fallback string) string {
	for _, t := range triggers {
		if t.Topic == issue {
			return t.PersonaID
		}
	}
	return fallback
}

// profileCompletenessThresholdForSpecificTask is the completeness ceiling
// below which a specific-task template earns its +30 bonus (spec.md §4.4 b.).
const profileCompletenessThresholdForSpecificTask = 70

// ScoreTemplate computes a PromptTemplate's score against a context
// dictionary, per spec.md §4.4's weighted rule: base priority × 10, +50 per
// matched trigger, +20 when success_rate > 0.8, +30 for a specific-task
// template when profile completeness < 70%.
func ScoreTemplate(t models.PromptTemplate, contextDict map[string]any, profileCompleteness float64) int {
	score := t.Priority * 10

	for _, cond := range t.TriggerConditions {
		if evaluateCondition(cond, contextDict) {
			score += 50
		}
	}
	if t.SuccessRate > 0.8 {
		score += 20
	}
	if t.PromptType == models.PromptSpecificTask && profileCompleteness < profileCompletenessThresholdForSpecificTask {
		score += 30
	}
	return score
}

func evaluateCondition(cond models.TriggerCondition, dict map[string]any) bool {
	actual, ok := dict[cond.Field]
	if !ok {
		return false
	}
	switch cond.Operator {
	case "includes":
		s, ok1 := actual.(string)
		want, ok2 := cond.Value.(string)
		return ok1 && ok2 && strings.Contains(s, want)
	case "=":
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", cond.Value)
	case "<", ">":
		af, aok := toFloat(actual)
		wf, wok := toFloat(cond.Value)
		if !aok || !wok {
			return false
		}
		if cond.Operator == "<" {
			return af < wf
		}
		return af > wf
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SelectTemplate picks the highest-scoring active template for a persona's
// candidates; ties break by success_rate then priority. Falls back to base
// when templates is empty.
func SelectTemplate(templates []models.PromptTemplate, contextDict map[string]any, profileCompleteness float64) (models.PromptTemplate, bool) {
	var active []models.PromptTemplate
	for _, t := range templates {
		if t.IsActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return models.PromptTemplate{}, false
	}

	sort.SliceStable(active, func(i, j int) bool {
		si := ScoreTemplate(active[i], contextDict, profileCompleteness)
		sj := ScoreTemplate(active[j], contextDict, profileCompleteness)
		if si != sj {
			return si > sj
		}
		if active[i].SuccessRate != active[j].SuccessRate {
			return active[i].SuccessRate > active[j].SuccessRate
		}
		return active[i].Priority > active[j].Priority
	})
	return active[0], true
}

const pacingRulesBlock = "Ask one question at a time. Acknowledge what the user said. Be concise."

// ComposeSystemPrompt assembles the final system prompt string from the
// selected template (or persona base), the fixed pacing-rules block, a
// rendered "Current context" block, and optional persona tail instructions.
func ComposeSystemPrompt(persona models.ExpertPersona, template models.PromptTemplate, hasTemplate bool, contextText, tail string) string {
	var b strings.Builder
	if hasTemplate && template.PromptText != "" {
		b.WriteString(template.PromptText)
	} else {
		b.WriteString(persona.Base)
	}
	b.WriteString("\n\n")
	b.WriteString(pacingRulesBlock)
	if contextText != "" {
		b.WriteString("\n\nCurrent context:\n")
		b.WriteString(contextText)
	}
	if tail != "" {
		b.WriteString("\n\n")
		b.WriteString(tail)
	}
	return b.String()
}
