package experts

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestIsSimpleGreeting(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"hello", true},
		{"hi there", true},
		{"Good Morning!", false}, // punctuation breaks the prefix match on purpose
		{"good morning", true},
		{"what's my balance?", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, IsSimpleGreeting(tt.msg), tt.msg)
	}
}

func TestSelectPersona_ExplicitSwitchPhraseWinsOnFirstTurn(t *testing.T) {
	decision := SelectPersona(SelectionInput{
		Message:        "switch to budgeting",
		CurrentPersona: "executive-assistant",
		SwitchPhrases:  []SwitchPhraseTrigger{{Keyword: "budgeting", PersonaID: "budget-coach"}},
		DefaultPersona: "executive-assistant",
	})
	require.Equal(t, "budget-coach", decision.NewPersona)
}

func TestSelectPersona_NoSwitchOnFirstTurnWithoutPhrase(t *testing.T) {
	decision := SelectPersona(SelectionInput{
		Message:        "what can you help with?",
		CurrentPersona: "executive-assistant",
		DefaultPersona: "executive-assistant",
	})
	require.Equal(t, "executive-assistant", decision.NewPersona)
	require.Equal(t, "executive-assistant", decision.OldPersona)
}

func TestSelectPersona_TopicDominanceRequiresThreeMentions(t *testing.T) {
	history := []*models.Message{
		{Content: "let's talk about taxes"},
		{Content: "taxes are due soon"},
	}
	decision := SelectPersona(SelectionInput{
		Message:        "more on taxes please",
		History:        history,
		CurrentPersona: "executive-assistant",
		TopicTriggers:  []TopicTrigger{{Topic: "taxes", PersonaID: "tax-advisor"}},
		DefaultPersona: "executive-assistant",
	})
	require.Equal(t, "tax-advisor", decision.NewPersona)
}

func TestSelectPersona_LowProfileCompletenessRoutesToIdentityConsultant(t *testing.T) {
	history := []*models.Message{{Content: "a"}, {Content: "b"}}
	decision := SelectPersona(SelectionInput{
		Message:         "help me plan my week",
		History:         history,
		CurrentPersona:  "executive-assistant",
		Profile:         ProfileSnapshot{CompletenessPercent: 30},
		IdentityPersona: "identity-consultant",
		DefaultPersona:  "executive-assistant",
	})
	require.Equal(t, "identity-consultant", decision.NewPersona)
}

func TestSelectPersona_GreetingNeverTriggersIdentityConsultant(t *testing.T) {
	history := []*models.Message{{Content: "a"}, {Content: "b"}}
	decision := SelectPersona(SelectionInput{
		Message:         "hello",
		History:         history,
		CurrentPersona:  "executive-assistant",
		Profile:         ProfileSnapshot{CompletenessPercent: 10},
		IdentityPersona: "identity-consultant",
		DefaultPersona:  "executive-assistant",
	})
	require.Equal(t, "executive-assistant", decision.NewPersona)
}

func TestSelectPersona_BusinessIssueRouting(t *testing.T) {
	history := []*models.Message{{Content: "a"}, {Content: "b"}}
	decision := SelectPersona(SelectionInput{
		Message:        "how's things",
		History:        history,
		CurrentPersona: "executive-assistant",
		Profile:        ProfileSnapshot{CompletenessPercent: 90, BusinessIssues: []string{"cashflow"}},
		TopicTriggers:  []TopicTrigger{{Topic: "cashflow", PersonaID: "finance-advisor"}},
		DefaultPersona: "executive-assistant",
	})
	require.Equal(t, "finance-advisor", decision.NewPersona)
}

func TestScoreTemplate(t *testing.T) {
	tpl := models.PromptTemplate{
		Priority:    2,
		SuccessRate: 0.9,
		PromptType:  models.PromptSpecificTask,
		TriggerConditions: []models.TriggerCondition{
			{Field: "topic", Operator: "=", Value: "budget"},
		},
	}
	score := ScoreTemplate(tpl, map[string]any{"topic": "budget"}, 40)
	// 2*10 (priority) + 50 (trigger match) + 20 (success_rate>0.8) + 30 (specific task, completeness<70)
	require.Equal(t, 20+50+20+30, score)
}

func TestSelectTemplate_FallsBackWhenNoneActive(t *testing.T) {
	_, ok := SelectTemplate(nil, nil, 50)
	require.False(t, ok)

	_, ok = SelectTemplate([]models.PromptTemplate{{IsActive: false}}, nil, 50)
	require.False(t, ok)
}

func TestSelectTemplate_TiesBreakBySuccessRateThenPriority(t *testing.T) {
	// Both score 2*10 = 20; the higher success rate wins.
	templates := []models.PromptTemplate{
		{PromptName: "a", IsActive: true, Priority: 2, SuccessRate: 0.4},
		{PromptName: "b", IsActive: true, Priority: 2, SuccessRate: 0.5},
	}
	chosen, ok := SelectTemplate(templates, nil, 50)
	require.True(t, ok)
	require.Equal(t, "b", chosen.PromptName)

	// Both score 60 (1*10 + 50 for the trigger, and 6*10) with equal
	// success rates; the higher priority wins.
	templates = []models.PromptTemplate{
		{PromptName: "d", IsActive: true, Priority: 1, SuccessRate: 0.5,
			TriggerConditions: []models.TriggerCondition{{Field: "topic", Operator: "=", Value: "budget"}}},
		{PromptName: "c", IsActive: true, Priority: 6, SuccessRate: 0.5},
	}
	chosen, ok = SelectTemplate(templates, map[string]any{"topic": "budget"}, 50)
	require.True(t, ok)
	require.Equal(t, "c", chosen.PromptName)
}

func TestComposeSystemPrompt_IncludesPacingAndContext(t *testing.T) {
	persona := models.ExpertPersona{Base: "You are an assistant."}
	prompt := ComposeSystemPrompt(persona, models.PromptTemplate{}, false, "user likes concise answers", "Stay upbeat.")
	require.Contains(t, prompt, "You are an assistant.")
	require.Contains(t, prompt, "one question at a time")
	require.Contains(t, prompt, "user likes concise answers")
	require.Contains(t, prompt, "Stay upbeat.")
}
