package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestConversationSource_Constants(t *testing.T) {
	if string(SourceNative) != "native" {
		t.Errorf("SourceNative = %q, want %q", SourceNative, "native")
	}
	if string(SourceToolBridge) != "tool-bridge" {
		t.Errorf("SourceToolBridge = %q, want %q", SourceToolBridge, "tool-bridge")
	}
}

func TestMessage_Struct(t *testing.T) {
	now := time.Now()
	msg := Message{
		ID:             "msg-123",
		ConversationID: "conv-456",
		Role:           RoleUser,
		Content:        "Hello, world!",
		Metadata:       map[string]any{"key": "value"},
		CreatedAt:      now,
	}

	if msg.ID != "msg-123" {
		t.Errorf("ID = %q, want %q", msg.ID, "msg-123")
	}
	if msg.ConversationID != "conv-456" {
		t.Errorf("ConversationID = %q, want %q", msg.ConversationID, "conv-456")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:             "msg-123",
		ConversationID: "conv-456",
		Role:           RoleAssistant,
		Content:        "Hello!",
		ToolCalls:      []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
		Metadata:       map[string]any{"source": "test"},
		CreatedAt:      now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role = %v, want %v", decoded.Role, original.Role)
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
}

func TestConversation_Struct(t *testing.T) {
	now := time.Now()
	conv := Conversation{
		ID:        "conv-123",
		UserID:    "user-456",
		Title:     "Test Conversation",
		Source:    SourceNative,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if conv.ID != "conv-123" {
		t.Errorf("ID = %q, want %q", conv.ID, "conv-123")
	}
	if conv.Source != SourceNative {
		t.Errorf("Source = %v, want %v", conv.Source, SourceNative)
	}
	if conv.IsArchived {
		t.Error("IsArchived should default to false")
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash("hello world")
	b := ContentHash("hello world")
	if a != b {
		t.Errorf("ContentHash not deterministic: %q != %q", a, b)
	}
	if ContentHash("hello world") == ContentHash("goodbye world") {
		t.Error("ContentHash collided for distinct inputs")
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "tc-123",
		Name:  "web_search",
		Input: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}
