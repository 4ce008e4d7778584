package tools

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/prompt"
)

// KnowledgeSearchTool searches the knowledge document for course, price
// and schedule information.
type KnowledgeSearchTool struct {
	provider *prompt.Provider
}

// NewKnowledgeSearchTool creates the search_knowledge_base tool.
func NewKnowledgeSearchTool(provider *prompt.Provider) *KnowledgeSearchTool {
	return &KnowledgeSearchTool{provider: provider}
}

// Name returns the function name the model calls this tool by.
func (t *KnowledgeSearchTool) Name() string { return "search_knowledge_base" }

// Definition returns the OpenAI function definition for this tool.
func (t *KnowledgeSearchTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Ищет информацию в базе знаний о курсах, ценах, расписании"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Поисковый запрос (например: 'цена курса Python', 'расписание STEAM')",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Execute runs the keyword search against the knowledge document.
func (t *KnowledgeSearchTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return models.ToolFailure("invalid search_knowledge_base arguments: %v", err)
	}

	if t.provider.DynamicContent(ctx) == "" {
		return models.ToolFailure("База знаний недоступна")
	}

	found := t.provider.Search(ctx, params.Query)
	if found == "" {
		found = "Информация не найдена в базе знаний"
	}
	return models.ToolSuccess(map[string]string{
		"result": found,
		"query":  params.Query,
	})
}

var _ Tool = (*KnowledgeSearchTool)(nil)
