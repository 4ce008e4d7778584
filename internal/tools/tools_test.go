package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/prompt"
)

// mockNotifier records sent messages and can be told to fail.
type mockNotifier struct {
	to      []string
	bodies  []string
	sendErr error
}

func (m *mockNotifier) SendMessage(ctx context.Context, to string, message string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.to = append(m.to, to)
	m.bodies = append(m.bodies, message)
	return nil
}

// panicTool always panics; used to exercise dispatch recovery.
type panicTool struct{}

func (panicTool) Name() string { return "panic_tool" }
func (panicTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{}
}
func (panicTool) Execute(ctx context.Context, args json.RawMessage) models.ToolResult {
	panic("boom")
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r := NewRegistry(NewCurrentDateTool())
	res := r.Dispatch(context.Background(), "no_such_tool", json.RawMessage(`{}`))
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(res.Error, "no_such_tool") {
		t.Errorf("expected error to name the tool, got %q", res.Error)
	}
}

func TestRegistryDispatchRecoversPanic(t *testing.T) {
	r := NewRegistry(panicTool{})
	res := r.Dispatch(context.Background(), "panic_tool", json.RawMessage(`{}`))
	if res.Success {
		t.Fatal("expected failure from panicking tool")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("expected panic value in error, got %q", res.Error)
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry(NewCurrentDateTool(), NewNotifyManagerTool(&mockNotifier{}, "77010000000"))
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Function.Name != "get_current_date" || defs[1].Function.Name != "notify_manager" {
		t.Errorf("expected registration order preserved, got %q then %q", defs[0].Function.Name, defs[1].Function.Name)
	}
}

func TestCurrentDateTool(t *testing.T) {
	tool := NewCurrentDateTool()
	tool.now = func() time.Time {
		return time.Date(2025, time.March, 3, 14, 30, 0, 0, time.UTC)
	}
	res := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	fields, ok := res.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type %T", res.Result)
	}
	if fields["date"] != "2025-03-03" || fields["time"] != "14:30:00" || fields["day_of_week"] != "Monday" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestNotifyManagerFormatsMessage(t *testing.T) {
	sender := &mockNotifier{}
	tool := NewNotifyManagerTool(sender, "77010000000")
	tool.now = func() time.Time {
		return time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	}

	args := json.RawMessage(`{"message":"Жалоба на расписание","priority":"high","user_phone":"77020000000"}`)
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if len(sender.bodies) != 1 || sender.to[0] != "77010000000" {
		t.Fatalf("expected one message to the manager, got %v", sender.to)
	}
	body := sender.bodies[0]
	for _, want := range []string{"HIGH PRIORITY", "Жалоба на расписание", "77020000000", "2025-03-03 09:00:00"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in notification body %q", want, body)
		}
	}
}

func TestNotifyManagerDefaultsPriority(t *testing.T) {
	sender := &mockNotifier{}
	tool := NewNotifyManagerTool(sender, "77010000000")
	res := tool.Execute(context.Background(), json.RawMessage(`{"message":"вопрос"}`))
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if !strings.Contains(sender.bodies[0], "MEDIUM PRIORITY") {
		t.Errorf("expected medium priority default, got %q", sender.bodies[0])
	}
}

func TestNotifyManagerFailures(t *testing.T) {
	// Missing manager phone.
	tool := NewNotifyManagerTool(&mockNotifier{}, "")
	if res := tool.Execute(context.Background(), json.RawMessage(`{"message":"x"}`)); res.Success {
		t.Error("expected failure with no manager phone configured")
	}

	// Delivery failure surfaces as a structured result.
	sender := &mockNotifier{sendErr: errors.New("connection refused")}
	tool = NewNotifyManagerTool(sender, "77010000000")
	res := tool.Execute(context.Background(), json.RawMessage(`{"message":"x"}`))
	if res.Success {
		t.Fatal("expected failure when delivery fails")
	}
	if !strings.Contains(res.Error, "connection refused") {
		t.Errorf("expected delivery error in result, got %q", res.Error)
	}
}

func TestRegisterStudentCreatesNotionPage(t *testing.T) {
	var gotPath, gotAuth, gotVersion string
	var gotPage map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Notion-Version")
		json.NewDecoder(r.Body).Decode(&gotPage)
		json.NewEncoder(w).Encode(map[string]string{"id": "page-123"})
	}))
	defer srv.Close()

	tool := NewRegisterStudentTool(
		WithNotionToken("secret-token"),
		WithNotionDatabaseID("db-1"),
		WithNotionBaseURL(srv.URL),
	)
	tool.newLeadID = func() string { return "lead-42" }

	args := json.RawMessage(`{"name":"Айдана","phone":"77010000000","course":"Python","comment":"после обеда"}`)
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	if gotPath != "/v1/pages" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" || gotVersion != "2022-06-28" {
		t.Errorf("unexpected headers auth=%q version=%q", gotAuth, gotVersion)
	}
	parent, _ := gotPage["parent"].(map[string]interface{})
	if parent["database_id"] != "db-1" {
		t.Errorf("unexpected parent %v", gotPage["parent"])
	}

	fields, ok := res.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type %T", res.Result)
	}
	if fields["notion_id"] != "page-123" || fields["lead_id"] != "lead-42" {
		t.Errorf("unexpected result fields %v", fields)
	}
	if !strings.Contains(fields["result"], "Айдана") || !strings.Contains(fields["result"], "Python") {
		t.Errorf("expected confirmation text with name and course, got %q", fields["result"])
	}
}

func TestRegisterStudentFailures(t *testing.T) {
	// Missing credentials.
	tool := NewRegisterStudentTool()
	res := tool.Execute(context.Background(), json.RawMessage(`{"name":"a","phone":"b","course":"c"}`))
	if res.Success || !strings.Contains(res.Error, "NOTION_TOKEN") {
		t.Errorf("expected credentials failure, got %+v", res)
	}

	// Missing required fields.
	tool = NewRegisterStudentTool(WithNotionToken("t"), WithNotionDatabaseID("d"))
	if res := tool.Execute(context.Background(), json.RawMessage(`{"name":"a"}`)); res.Success {
		t.Error("expected failure for missing required fields")
	}

	// Notion API error status.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	tool = NewRegisterStudentTool(WithNotionToken("t"), WithNotionDatabaseID("d"), WithNotionBaseURL(srv.URL))
	res = tool.Execute(context.Background(), json.RawMessage(`{"name":"a","phone":"b","course":"c"}`))
	if res.Success || !strings.Contains(res.Error, "400") {
		t.Errorf("expected API status failure, got %+v", res)
	}
}

func TestKnowledgeSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Курс Python для детей\nЦена 25000 тенге в месяц"))
	}))
	defer srv.Close()

	provider := prompt.NewProvider(prompt.WithDocURL(srv.URL), prompt.WithRefreshInterval(time.Hour))
	tool := NewKnowledgeSearchTool(provider)

	res := tool.Execute(context.Background(), json.RawMessage(`{"query":"цена python"}`))
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	fields := res.Result.(map[string]string)
	if !strings.Contains(fields["result"], "25000") {
		t.Errorf("expected price in search result, got %q", fields["result"])
	}

	// No match is still a success with an explicit not-found text.
	res = tool.Execute(context.Background(), json.RawMessage(`{"query":"шахматы"}`))
	if !res.Success || !strings.Contains(fields["query"], "цена") {
		t.Errorf("unexpected result %+v", res)
	}
	notFound := res.Result.(map[string]string)
	if !strings.Contains(notFound["result"], "не найдена") {
		t.Errorf("expected not-found text, got %q", notFound["result"])
	}
}

func TestKnowledgeSearchUnavailableBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := prompt.NewProvider(prompt.WithDocURL(srv.URL))
	tool := NewKnowledgeSearchTool(provider)
	res := tool.Execute(context.Background(), json.RawMessage(`{"query":"цена"}`))
	if res.Success {
		t.Fatal("expected failure when knowledge base is unreachable")
	}
	if !strings.Contains(res.Error, "недоступна") {
		t.Errorf("unexpected error %q", res.Error)
	}
}
