package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/CaravanDesk/ChatCaravan/internal/cache"
	"github.com/CaravanDesk/ChatCaravan/internal/conversation"
	"github.com/CaravanDesk/ChatCaravan/internal/genai"
	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/prompt"
	"github.com/CaravanDesk/ChatCaravan/internal/store"
	"github.com/CaravanDesk/ChatCaravan/internal/tools"
)

// scriptedClient replays a fixed sequence of tool-call responses and
// records every request it receives.
type scriptedClient struct {
	responses []*genai.ToolCallResponse
	err       error
	requests  [][]openai.ChatCompletionMessageParamUnion
	toolDefs  [][]openai.ChatCompletionToolParam
}

func (c *scriptedClient) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (c *scriptedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return "", errors.New("not used")
}

func (c *scriptedClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, defs []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	c.requests = append(c.requests, messages)
	c.toolDefs = append(c.toolDefs, defs)
	if c.err != nil {
		return nil, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func (c *scriptedClient) TranscribeAudio(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	return "", errors.New("not used")
}

// recordingNotifier satisfies tools.Notifier.
type recordingNotifier struct {
	bodies []string
}

func (r *recordingNotifier) SendMessage(ctx context.Context, to string, message string) error {
	r.bodies = append(r.bodies, message)
	return nil
}

func textResponse(text string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{Content: text}
}

func toolCallResponse(id, name, args string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{
		ToolCalls: []genai.ToolCall{{
			ID:   id,
			Type: "function",
			Function: genai.FunctionCall{
				Name:      name,
				Arguments: json.RawMessage(args),
			},
		}},
	}
}

func newTestAgent(t *testing.T, client genai.ClientInterface, reg *tools.Registry, opts ...Option) (*Agent, *conversation.History) {
	t.Helper()
	history := conversation.NewHistory(cache.NewMemoryCache(), store.NewNoopStore())
	if reg == nil {
		reg = tools.NewRegistry(tools.NewCurrentDateTool())
	}
	return New(client, history, reg, prompt.NewProvider(), opts...), history
}

func TestProcessTurnDirectReply(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{textResponse("Здравствуйте! Чем могу помочь?")}}
	agent, history := newTestAgent(t, client, nil)
	ctx := context.Background()

	reply := agent.ProcessTurn(ctx, "77010000000", "Привет")
	if reply != "Здравствуйте! Чем могу помочь?" {
		t.Fatalf("unexpected reply %q", reply)
	}

	recent := history.Recent(ctx, "77010000000")
	if len(recent) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(recent))
	}
	if recent[0].Role != models.RoleUser || recent[0].Content != "Привет" {
		t.Errorf("unexpected first history message %+v", recent[0])
	}
	if recent[1].Role != models.RoleAssistant || recent[1].Content != reply {
		t.Errorf("unexpected second history message %+v", recent[1])
	}

	// One model round, with the tool definitions attached.
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 model request, got %d", len(client.requests))
	}
	if len(client.toolDefs[0]) == 0 {
		t.Error("expected tool definitions passed to the model")
	}
}

func TestProcessTurnFirstTurnPromptSwitches(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{textResponse("ответ")}}
	agent, _ := newTestAgent(t, client, nil)
	ctx := context.Background()

	agent.ProcessTurn(ctx, "77010000000", "Привет")
	agent.ProcessTurn(ctx, "77010000000", "Расскажите о курсах")

	first := client.requests[0][0]
	second := client.requests[1][0]
	if first.OfSystem == nil || second.OfSystem == nil {
		t.Fatal("expected system message first in every request")
	}
	if !strings.Contains(first.OfSystem.Content.OfString.Value, "Это первое сообщение") {
		t.Error("expected first-contact instruction on the opening turn")
	}
	if !strings.Contains(second.OfSystem.Content.OfString.Value, "НЕ первое сообщение") {
		t.Error("expected returning instruction on the second turn")
	}

	// Second request carries the prior exchange plus the new user message.
	if len(client.requests[1]) != 4 {
		t.Errorf("expected system + 2 history + user, got %d messages", len(client.requests[1]))
	}
}

func TestProcessTurnToolRound(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{
		toolCallResponse("call-1", "get_current_date", `{}`),
		textResponse("Сегодня понедельник."),
	}}
	agent, history := newTestAgent(t, client, nil)
	ctx := context.Background()

	reply := agent.ProcessTurn(ctx, "77010000000", "Какой сегодня день?")
	if reply != "Сегодня понедельник." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 model rounds, got %d", len(client.requests))
	}

	// Second round sees the assistant tool-call message and the tool result.
	second := client.requests[1]
	if len(second) != 4 {
		t.Fatalf("expected system + user + assistant + tool, got %d messages", len(second))
	}
	if second[2].OfAssistant == nil || len(second[2].OfAssistant.ToolCalls) != 1 {
		t.Error("expected assistant tool-call message replayed to the model")
	}
	if second[3].OfTool == nil || second[3].OfTool.ToolCallID != "call-1" {
		t.Error("expected tool result message bound to the call ID")
	}

	// Tool traffic stays out of the conversation history.
	recent := history.Recent(ctx, "77010000000")
	if len(recent) != 2 {
		t.Errorf("expected only user and final reply in history, got %d messages", len(recent))
	}
}

func TestProcessTurnUnknownToolContinues(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{
		toolCallResponse("call-1", "imaginary_tool", `{}`),
		textResponse("Уточните, пожалуйста, вопрос."),
	}}
	agent, _ := newTestAgent(t, client, nil)

	reply := agent.ProcessTurn(context.Background(), "77010000000", "сделай что-нибудь")
	if reply != "Уточните, пожалуйста, вопрос." {
		t.Fatalf("unexpected reply %q", reply)
	}

	// The failure went back to the model as a structured tool result.
	second := client.requests[1]
	toolMsg := second[len(second)-1]
	if toolMsg.OfTool == nil {
		t.Fatal("expected tool result message")
	}
	content := toolMsg.OfTool.Content.OfString.Value
	if !strings.Contains(content, `"success":false`) || !strings.Contains(content, "imaginary_tool") {
		t.Errorf("expected structured failure in tool result, got %q", content)
	}
}

func TestProcessTurnInjectsUserPhone(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := tools.NewRegistry(tools.NewNotifyManagerTool(notifier, "77000000000"))
	client := &scriptedClient{responses: []*genai.ToolCallResponse{
		toolCallResponse("call-1", "notify_manager", `{"message":"Жалоба","priority":"high"}`),
		textResponse("Передал менеджеру."),
	}}
	agent, _ := newTestAgent(t, client, reg)

	agent.ProcessTurn(context.Background(), "77019998877", "у меня жалоба")
	if len(notifier.bodies) != 1 {
		t.Fatalf("expected one manager notification, got %d", len(notifier.bodies))
	}
	if !strings.Contains(notifier.bodies[0], "77019998877") {
		t.Errorf("expected caller phone injected into notification, got %q", notifier.bodies[0])
	}
}

func TestProcessTurnIterationCap(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{
		toolCallResponse("call-1", "get_current_date", `{}`),
	}}
	agent, history := newTestAgent(t, client, nil, WithMaxIterations(3))
	ctx := context.Background()

	reply := agent.ProcessTurn(ctx, "77010000000", "зациклись")
	if reply != replyTookTooLong {
		t.Fatalf("expected iteration-cap reply, got %q", reply)
	}
	if len(client.requests) != 3 {
		t.Errorf("expected exactly 3 model rounds, got %d", len(client.requests))
	}

	// The fallback reply is still recorded as the turn's outcome.
	recent := history.Recent(ctx, "77010000000")
	if len(recent) != 2 || recent[1].Content != replyTookTooLong {
		t.Errorf("expected fallback reply in history, got %+v", recent)
	}
}

func TestProcessTurnModelFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("api timeout")}
	agent, history := newTestAgent(t, client, nil)
	ctx := context.Background()

	reply := agent.ProcessTurn(ctx, "77010000000", "Привет")
	if reply != replyServiceUnavailable {
		t.Fatalf("expected unavailability reply, got %q", reply)
	}
	recent := history.Recent(ctx, "77010000000")
	if len(recent) != 2 {
		t.Errorf("expected turn recorded despite model failure, got %d messages", len(recent))
	}
}

func TestProcessTurnEmptyFinalResponse(t *testing.T) {
	client := &scriptedClient{responses: []*genai.ToolCallResponse{textResponse("")}}
	agent, _ := newTestAgent(t, client, nil)
	if reply := agent.ProcessTurn(context.Background(), "77010000000", "Привет"); reply != replyProcessingError {
		t.Fatalf("expected processing-error reply for empty model output, got %q", reply)
	}
}
