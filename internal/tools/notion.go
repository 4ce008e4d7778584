package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

const (
	// DefaultNotionBaseURL is the Notion REST API endpoint.
	DefaultNotionBaseURL = "https://api.notion.com"
	// notionVersion is the Notion-Version header sent with every request.
	notionVersion = "2022-06-28"
	// notionRequestTimeout bounds one page-creation call.
	notionRequestTimeout = 10 * time.Second
)

// RegisterStudentTool records course sign-ups as pages in a Notion database.
type RegisterStudentTool struct {
	token      string
	databaseID string
	baseURL    string
	client     *http.Client
	now        func() time.Time
	newLeadID  func() string
}

// RegisterStudentOpts holds configuration options for the registration tool.
type RegisterStudentOpts struct {
	Token      string
	DatabaseID string
	BaseURL    string
}

// RegisterStudentOption defines a configuration option for the registration tool.
type RegisterStudentOption func(*RegisterStudentOpts)

// WithNotionToken sets the Notion integration token.
func WithNotionToken(token string) RegisterStudentOption {
	return func(o *RegisterStudentOpts) { o.Token = token }
}

// WithNotionDatabaseID sets the target Notion database.
func WithNotionDatabaseID(id string) RegisterStudentOption {
	return func(o *RegisterStudentOpts) { o.DatabaseID = id }
}

// WithNotionBaseURL overrides the Notion API endpoint.
func WithNotionBaseURL(url string) RegisterStudentOption {
	return func(o *RegisterStudentOpts) { o.BaseURL = url }
}

// NewRegisterStudentTool creates the register_student tool. Missing
// credentials do not fail construction; the tool reports them as a
// structured failure at call time so the model can tell the user.
func NewRegisterStudentTool(opts ...RegisterStudentOption) *RegisterStudentTool {
	cfg := RegisterStudentOpts{BaseURL: DefaultNotionBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RegisterStudentTool{
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: notionRequestTimeout},
		now:        time.Now,
		newLeadID:  uuid.NewString,
	}
}

// Name returns the function name the model calls this tool by.
func (t *RegisterStudentTool) Name() string { return "register_student" }

// Definition returns the OpenAI function definition for this tool.
func (t *RegisterStudentTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Регистрирует студента на курс. Используй когда пользователь хочет записаться."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Имя студента",
					},
					"phone": map[string]interface{}{
						"type":        "string",
						"description": "Номер телефона студента",
					},
					"course": map[string]interface{}{
						"type":        "string",
						"description": "Название курса",
					},
					"comment": map[string]interface{}{
						"type":        "string",
						"description": "Дополнительный комментарий",
					},
				},
				"required": []string{"name", "phone", "course"},
			},
		},
	}
}

// Execute creates a lead page in the Notion database.
func (t *RegisterStudentTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	var params struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Course  string `json:"course"`
		Comment string `json:"comment"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return models.ToolFailure("invalid register_student arguments: %v", err)
	}
	if params.Name == "" || params.Phone == "" || params.Course == "" {
		return models.ToolFailure("register_student requires name, phone and course")
	}
	if t.token == "" || t.databaseID == "" {
		slog.Warn("RegisterStudentTool.Execute: Notion credentials not set")
		return models.ToolFailure("Notion не настроен (добавьте NOTION_TOKEN и NOTION_DATABASE_ID)")
	}

	leadID := t.newLeadID()
	page := map[string]interface{}{
		"parent": map[string]string{"database_id": t.databaseID},
		"properties": map[string]interface{}{
			"Name": map[string]interface{}{
				"title": []map[string]interface{}{{"text": map[string]string{"content": params.Name}}},
			},
			"Phone": map[string]string{
				"phone_number": params.Phone,
			},
			"Course": map[string]interface{}{
				"rich_text": []map[string]interface{}{{"text": map[string]string{"content": params.Course}}},
			},
			"Comment": map[string]interface{}{
				"rich_text": []map[string]interface{}{{"text": map[string]string{"content": params.Comment}}},
			},
			"Lead ID": map[string]interface{}{
				"rich_text": []map[string]interface{}{{"text": map[string]string{"content": leadID}}},
			},
			"Date": map[string]interface{}{
				"date": map[string]string{"start": t.now().Format(time.RFC3339)},
			},
		},
	}

	body, err := json.Marshal(page)
	if err != nil {
		return models.ToolFailure("failed to encode Notion page: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/pages", bytes.NewReader(body))
	if err != nil {
		return models.ToolFailure("failed to build Notion request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("RegisterStudentTool.Execute: Notion request failed", "error", err, "leadID", leadID)
		return models.ToolFailure("Notion request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("RegisterStudentTool.Execute: Notion API error", "status", resp.StatusCode, "leadID", leadID)
		return models.ToolFailure("Ошибка Notion API: %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&created); err != nil {
		slog.Warn("RegisterStudentTool.Execute: failed to decode Notion response", "error", err)
	}

	slog.Info("RegisterStudentTool.Execute: student registered", "name", params.Name, "course", params.Course, "leadID", leadID, "notionID", created.ID)
	return models.ToolSuccess(map[string]string{
		"result":    fmt.Sprintf("Студент %s успешно зарегистрирован на курс '%s'", params.Name, params.Course),
		"lead_id":   leadID,
		"notion_id": created.ID,
	})
}

var _ Tool = (*RegisterStudentTool)(nil)
