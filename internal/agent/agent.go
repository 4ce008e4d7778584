// Package agent runs the turn orchestration loop: it assembles the model
// context from the conversation history, lets the model call tools for a
// bounded number of rounds, and always produces a user-facing reply.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/CaravanDesk/ChatCaravan/internal/conversation"
	"github.com/CaravanDesk/ChatCaravan/internal/genai"
	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/prompt"
	"github.com/CaravanDesk/ChatCaravan/internal/tools"
)

// DefaultMaxIterations caps how many model rounds one turn may take.
const DefaultMaxIterations = 5

// Fixed replies for the degraded paths. The user always gets text, never
// an error.
const (
	replyServiceUnavailable = "Извините, сервис временно недоступен."
	replyProcessingError    = "Извините, произошла ошибка обработки. Попробуйте позже."
	replyTookTooLong        = "Обрабатываю ваш запрос, но это занимает больше времени чем ожидалось. Попробуйте уточнить вопрос."
)

const toolInstructions = `

ВАЖНО - ВЫ АВТОНОМНЫЙ AI-АГЕНТ С ИНСТРУМЕНТАМИ:

У вас есть доступ к следующим инструментам (functions):

1. search_knowledge_base(query) - поиск информации о курсах, ценах, расписании
   Используйте ВСЕГДА когда нужна конкретная информация о курсах!

2. register_student(name, phone, course, comment) - регистрация студента на курс
   Используйте когда пользователь хочет записаться или зарегистрироваться

3. notify_manager(message, priority, user_phone) - уведомление менеджера в WhatsApp
   Используйте при жалобах, сложных вопросах или важных ситуациях
   Priority: "low", "medium", "high"

4. get_current_date() - получить текущую дату и время
   Используйте когда нужна актуальная дата

ПРАВИЛА ИСПОЛЬЗОВАНИЯ ИНСТРУМЕНТОВ:
- Если пользователь спрашивает о курсах/ценах/расписании → search_knowledge_base()
- Если пользователь хочет записаться → register_student()
- Если жалоба или сложный вопрос → notify_manager()
- Можно использовать несколько инструментов последовательно

ВАЖНО: Сначала используйте инструменты, ПОТОМ формулируйте ответ на основе результатов!
`

// Agent orchestrates one conversation turn end to end.
type Agent struct {
	client        genai.ClientInterface
	history       *conversation.History
	registry      *tools.Registry
	prompts       *prompt.Provider
	maxIterations int
}

// Opts holds configuration options for the agent.
type Opts struct {
	MaxIterations int
}

// Option defines a configuration option for the agent.
type Option func(*Opts)

// WithMaxIterations sets the model-round cap per turn.
func WithMaxIterations(n int) Option {
	return func(o *Opts) { o.MaxIterations = n }
}

// New creates an agent.
func New(client genai.ClientInterface, history *conversation.History, registry *tools.Registry, prompts *prompt.Provider, opts ...Option) *Agent {
	cfg := Opts{MaxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Agent{
		client:        client,
		history:       history,
		registry:      registry,
		prompts:       prompts,
		maxIterations: cfg.MaxIterations,
	}
}

// ProcessTurn handles one inbound user message and returns the reply text.
// It never returns an error; every failure degrades to a fixed apology so
// the user is not left without an answer.
func (a *Agent) ProcessTurn(ctx context.Context, userID, userMessage string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Agent.ProcessTurn: panic recovered", "panic", rec, "userID", userID)
			reply = replyProcessingError
		}
	}()

	firstTurn := a.history.IsFirstTurn(ctx, userID)
	systemPrompt := a.prompts.SystemPrompt(ctx, firstTurn) + toolInstructions
	recent := a.history.Recent(ctx, userID)

	slog.Info("Agent.ProcessTurn: starting turn", "userID", userID, "firstTurn", firstTurn, "historyLength", len(recent))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(recent)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, msg := range recent {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	reply = a.runLoop(ctx, userID, messages)

	// Only the user text and the final reply enter history; intermediate
	// tool traffic stays out of the conversation record.
	if err := a.history.Append(ctx, userID, models.RoleUser, userMessage); err != nil {
		slog.Warn("Agent.ProcessTurn: failed to record user message", "error", err, "userID", userID)
	}
	if err := a.history.Append(ctx, userID, models.RoleAssistant, reply); err != nil {
		slog.Warn("Agent.ProcessTurn: failed to record reply", "error", err, "userID", userID)
	}
	return reply
}

// runLoop drives the bounded tool-calling loop and returns the final text.
func (a *Agent) runLoop(ctx context.Context, userID string, messages []openai.ChatCompletionMessageParamUnion) string {
	definitions := a.registry.Definitions()

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		slog.Info("Agent.runLoop: iteration", "userID", userID, "iteration", iteration, "maxIterations", a.maxIterations, "messageCount", len(messages))

		resp, err := a.client.GenerateWithTools(ctx, messages, definitions)
		if err != nil {
			slog.Error("Agent.runLoop: model request failed", "error", err, "userID", userID, "iteration", iteration)
			return replyServiceUnavailable
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				slog.Warn("Agent.runLoop: model returned empty final response", "userID", userID, "iteration", iteration)
				return replyProcessingError
			}
			slog.Info("Agent.runLoop: turn finished", "userID", userID, "iterations", iteration)
			return resp.Content
		}

		messages = append(messages, assistantToolCallMessage(resp))
		slog.Info("Agent.runLoop: executing tool calls", "userID", userID, "count", len(resp.ToolCalls))

		for _, call := range resp.ToolCalls {
			args := call.Function.Arguments
			if call.Function.Name == "notify_manager" {
				args = injectUserPhone(args, userID)
			}
			result := a.registry.Dispatch(ctx, call.Function.Name, args)
			messages = append(messages, openai.ToolMessage(result.JSON(), call.ID))
		}
	}

	slog.Warn("Agent.runLoop: iteration cap reached", "userID", userID, "maxIterations", a.maxIterations)
	return replyTookTooLong
}

// assistantToolCallMessage rebuilds the assistant message carrying the
// tool calls so the follow-up request shows the model its own decision.
func assistantToolCallMessage(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, call := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: string(call.Function.Arguments),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// injectUserPhone adds the caller's phone number to notify_manager
// arguments when the model left it out.
func injectUserPhone(args json.RawMessage, userID string) json.RawMessage {
	var fields map[string]interface{}
	if err := json.Unmarshal(args, &fields); err != nil {
		return args
	}
	if _, present := fields["user_phone"]; present {
		return args
	}
	fields["user_phone"] = userID
	patched, err := json.Marshal(fields)
	if err != nil {
		return args
	}
	return patched
}
