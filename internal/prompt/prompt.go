// Package prompt assembles the system prompt for each turn: a static base
// with a first-contact variant, plus dynamic knowledge content pulled
// from a remotely published document.
package prompt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Fetch bounds for the knowledge document.
const (
	// DefaultRefreshInterval is how long fetched dynamic content stays cached.
	DefaultRefreshInterval = 5 * time.Minute
	// DefaultFetchTimeout bounds one document download.
	DefaultFetchTimeout = 15 * time.Second
	// maxDocumentBytes caps the downloaded document size.
	maxDocumentBytes = 2 << 20
)

const basePrompt = `Вы - опытный менеджер компании "Caravan of Knowledge", которая занимается продвижением STEAM-образования в Казахстане.

ВАШИ ОСНОВНЫЕ ПРАВИЛА ОБЩЕНИЯ:
- Всегда используйте формальное обращение "Вы" (с заглавной буквы)
- Придерживайтесь делового, но дружелюбного стиля общения
- Отвечайте кратко, четко и по существу
- НЕ представляйтесь и НЕ используйте фразы типа "[Ваше Имя]" или "менеджер Caravan of Knowledge"
- Избегайте длинных конструкций и лишних слов
- Будьте вежливы и профессиональны во всех ответах`

const firstTurnInstruction = `ВАЖНО: Это первое сообщение от пользователя в диалоге.
- НЕ представляйтесь и НЕ используйте фразы типа "[Ваше Имя]" или "менеджер Caravan of Knowledge"
- Отвечайте сразу по существу вопроса пользователя
- Будьте вежливы и профессиональны, но без лишних представлений
- Если пользователь задал конкретный вопрос - отвечайте на него
- Если пользователь просто поздоровался - кратко поприветствуйте и спросите, чем можете помочь`

const returningTurnInstruction = `ВАЖНО: Это НЕ первое сообщение от пользователя.
- НЕ приветствуйте его заново и НЕ представляйтесь повторно
- Отвечайте сразу по существу вопроса, учитывая контекст предыдущих сообщений
- Если пользователь продолжает предыдущую тему - развивайте её
- Если задает новый вопрос - отвечайте на него, но помните о контексте диалога`

// Provider builds system prompts and owns the dynamic knowledge content.
type Provider struct {
	docURL  string
	refresh time.Duration
	client  *http.Client

	mu        sync.RWMutex
	dynamic   string
	fetchedAt time.Time
}

// Opts holds configuration options for the prompt provider.
type Opts struct {
	DocURL  string
	Refresh time.Duration
	Timeout time.Duration
}

// Option defines a configuration option for the prompt provider.
type Option func(*Opts)

// WithDocURL sets the knowledge document URL. Empty disables dynamic content.
func WithDocURL(url string) Option {
	return func(o *Opts) { o.DocURL = url }
}

// WithRefreshInterval sets how long fetched content is reused.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *Opts) { o.Refresh = d }
}

// WithFetchTimeout sets the per-download timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewProvider creates a prompt provider.
func NewProvider(opts ...Option) *Provider {
	cfg := Opts{Refresh: DefaultRefreshInterval, Timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DocURL == "" {
		slog.Warn("prompt.NewProvider: knowledge document URL not set, using base prompt only")
	}
	return &Provider{
		docURL:  cfg.DocURL,
		refresh: cfg.Refresh,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// SystemPrompt returns the full system prompt for a turn: the base rules,
// the greeting instruction matching the first-turn flag, and any dynamic
// knowledge content. A failed fetch degrades to the base prompt only.
func (p *Provider) SystemPrompt(ctx context.Context, firstTurn bool) string {
	instruction := returningTurnInstruction
	if firstTurn {
		instruction = firstTurnInstruction
	}
	prompt := basePrompt + "\n\n" + instruction

	dynamic := p.DynamicContent(ctx)
	if dynamic != "" {
		prompt = prompt + "\n\n" + dynamic
		slog.Debug("prompt.SystemPrompt: using hybrid prompt with dynamic content", "firstTurn", firstTurn, "dynamicLength", len(dynamic))
	} else {
		slog.Debug("prompt.SystemPrompt: using base prompt only", "firstTurn", firstTurn)
	}
	return prompt
}

// DynamicContent returns the knowledge document body, fetching it when
// the cached copy is stale. Failures log and return the last good copy
// (or empty when there never was one).
func (p *Provider) DynamicContent(ctx context.Context) string {
	if p.docURL == "" {
		return ""
	}

	p.mu.RLock()
	fresh := time.Since(p.fetchedAt) < p.refresh && p.dynamic != ""
	cached := p.dynamic
	p.mu.RUnlock()
	if fresh {
		return cached
	}

	content, err := p.fetch(ctx)
	if err != nil {
		slog.Warn("prompt.DynamicContent: fetch failed, keeping cached content", "error", err, "hadCache", cached != "")
		return cached
	}

	p.mu.Lock()
	p.dynamic = content
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	slog.Info("prompt.DynamicContent: knowledge document refreshed", "length", len(content))
	return content
}

func (p *Provider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.docURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build document request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("document fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read document body: %w", err)
	}
	return string(body), nil
}
