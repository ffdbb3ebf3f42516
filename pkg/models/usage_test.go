package models

import "testing"

func TestUsageBudget_Exhausted(t *testing.T) {
	tests := []struct {
		name   string
		budget UsageBudget
		want   bool
	}{
		{"inactive never exhausted", UsageBudget{IsActive: false, BudgetAmount: 10, CurrentSpend: 50}, false},
		{"below amount", UsageBudget{IsActive: true, BudgetAmount: 10, CurrentSpend: 5}, false},
		{"at amount", UsageBudget{IsActive: true, BudgetAmount: 10, CurrentSpend: 10}, true},
		{"over amount", UsageBudget{IsActive: true, BudgetAmount: 10, CurrentSpend: 15}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.budget.Exhausted(); got != tt.want {
				t.Errorf("Exhausted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSensitivity_Constants(t *testing.T) {
	tests := []struct {
		constant Sensitivity
		expected string
	}{
		{SensitivityRestricted, "restricted"},
		{SensitivityInternal, "internal"},
		{SensitivityPublic, "public"},
	}
	for _, tt := range tests {
		if string(tt.constant) != tt.expected {
			t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}
