package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// CurrentDateTool reports the current date and time so the model can
// answer schedule questions without guessing.
type CurrentDateTool struct {
	now func() time.Time
}

// NewCurrentDateTool creates the get_current_date tool.
func NewCurrentDateTool() *CurrentDateTool {
	return &CurrentDateTool{now: time.Now}
}

// Name returns the function name the model calls this tool by.
func (t *CurrentDateTool) Name() string { return "get_current_date" }

// Definition returns the OpenAI function definition for this tool.
func (t *CurrentDateTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Получает текущую дату и время"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
				"required":   []string{},
			},
		},
	}
}

// Execute returns the current timestamp broken out by date, time and weekday.
func (t *CurrentDateTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	now := t.now()
	return models.ToolSuccess(map[string]string{
		"result":      now.Format("2006-01-02 15:04:05"),
		"date":        now.Format("2006-01-02"),
		"time":        now.Format("15:04:05"),
		"day_of_week": now.Weekday().String(),
	})
}

var _ Tool = (*CurrentDateTool)(nil)
