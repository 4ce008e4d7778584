package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// Notifier delivers a message to a recipient. messaging.Service satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, to string, message string) error
}

// priorityMarkers prefix manager notifications by urgency.
var priorityMarkers = map[string]string{
	"low":    "ℹ️",
	"medium": "⚠️",
	"high":   "🚨",
}

// NotifyManagerTool forwards complaints and hard questions to the manager
// over the messaging channel.
type NotifyManagerTool struct {
	sender       Notifier
	managerPhone string
	now          func() time.Time
}

// NewNotifyManagerTool creates the notify_manager tool. An empty manager
// phone is reported at call time, not at construction.
func NewNotifyManagerTool(sender Notifier, managerPhone string) *NotifyManagerTool {
	return &NotifyManagerTool{sender: sender, managerPhone: managerPhone, now: time.Now}
}

// Name returns the function name the model calls this tool by.
func (t *NotifyManagerTool) Name() string { return "notify_manager" }

// Definition returns the OpenAI function definition for this tool.
func (t *NotifyManagerTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Отправляет уведомление менеджеру в WhatsApp при сложном вопросе или жалобе"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Текст уведомления для менеджера",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"low", "medium", "high"},
						"description": "Приоритет уведомления",
					},
					"user_phone": map[string]interface{}{
						"type":        "string",
						"description": "Номер телефона пользователя (для контекста)",
					},
				},
				"required": []string{"message"},
			},
		},
	}
}

// Execute formats and sends the notification to the manager.
func (t *NotifyManagerTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	var params struct {
		Message   string `json:"message"`
		Priority  string `json:"priority"`
		UserPhone string `json:"user_phone"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return models.ToolFailure("invalid notify_manager arguments: %v", err)
	}
	if params.Message == "" {
		return models.ToolFailure("notify_manager requires a message")
	}
	if t.managerPhone == "" {
		slog.Warn("NotifyManagerTool.Execute: manager phone not set")
		return models.ToolFailure("Номер менеджера не настроен (добавьте MANAGER_PHONE_NUMBER)")
	}

	if params.Priority == "" {
		params.Priority = "medium"
	}
	marker, ok := priorityMarkers[params.Priority]
	if !ok {
		marker = "📌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s PRIORITY*\n\n", marker, strings.ToUpper(params.Priority))
	fmt.Fprintf(&b, "*Сообщение:* %s\n\n", params.Message)
	if params.UserPhone != "" {
		fmt.Fprintf(&b, "*От пользователя:* %s\n", params.UserPhone)
	}
	fmt.Fprintf(&b, "⏰ %s", t.now().Format("2006-01-02 15:04:05"))

	if err := t.sender.SendMessage(ctx, t.managerPhone, b.String()); err != nil {
		slog.Error("NotifyManagerTool.Execute: delivery failed", "error", err, "priority", params.Priority)
		return models.ToolFailure("WhatsApp API error: %v", err)
	}

	slog.Info("NotifyManagerTool.Execute: manager notified", "priority", params.Priority, "userPhone", params.UserPhone)
	return models.ToolSuccess("Менеджер уведомлен в WhatsApp")
}

var _ Tool = (*NotifyManagerTool)(nil)
