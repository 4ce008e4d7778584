package prompt

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxSearchResult caps the text returned by a knowledge search.
const maxSearchResult = 500

// topicKeywords maps knowledge-document section markers to the question
// keywords that select them.
var topicKeywords = map[string][]string{
	"курс":        {"курс", "обучение", "занятие", "урок", "программирование", "робототехника", "scratch", "python", "arduino"},
	"цен":         {"цена", "стоимость", "стоит", "оплата", "тариф", "скидка", "сколько"},
	"расписани":   {"расписание", "время", "когда", "график", "день"},
	"адрес":       {"адрес", "где", "находится", "филиал", "город", "локация"},
	"возраст":     {"возраст", "лет", "класс", "ребенок", "ребёнок", "детей"},
	"преподавател": {"преподаватель", "учитель", "тренер", "ментор"},
}

// FilterByTopic trims the knowledge content down to the sections relevant
// to the question. When no topic matches, the full content is returned so
// the model never loses information to an over-eager filter.
func FilterByTopic(content, question string) string {
	if content == "" || question == "" {
		return content
	}
	q := strings.ToLower(question)

	var topics []string
	for topic, keywords := range topicKeywords {
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	if len(topics) == 0 {
		return content
	}

	var kept []string
	for _, block := range strings.Split(content, "\n\n") {
		lower := strings.ToLower(block)
		for _, topic := range topics {
			if strings.Contains(lower, topic) {
				kept = append(kept, block)
				break
			}
		}
	}
	if len(kept) == 0 {
		return content
	}
	slog.Debug("prompt.FilterByTopic: filtered knowledge content", "topics", topics, "blocks", len(kept))
	return strings.Join(kept, "\n\n")
}

// Search runs a keyword search over the knowledge document and returns the
// matching lines with one line of surrounding context, capped at
// maxSearchResult characters. The document is first narrowed to the
// sections matching the question's topic. An empty result means nothing
// matched or the document is unavailable.
func (p *Provider) Search(ctx context.Context, query string) string {
	content := p.DynamicContent(ctx)
	if content == "" || strings.TrimSpace(query) == "" {
		return ""
	}
	content = FilterByTopic(content, query)

	words := strings.Fields(strings.ToLower(query))
	lines := strings.Split(content, "\n")
	matched := make(map[int]bool)
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched[i] = true
				break
			}
		}
	}
	if len(matched) == 0 {
		return ""
	}

	// Expand each hit by one line of context, preserving document order.
	include := make(map[int]bool)
	for i := range matched {
		for _, j := range []int{i - 1, i, i + 1} {
			if j >= 0 && j < len(lines) {
				include[j] = true
			}
		}
	}

	var b strings.Builder
	for i, line := range lines {
		if !include[i] {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(trimmed)
		if b.Len() >= maxSearchResult {
			break
		}
	}
	result := b.String()
	if len(result) > maxSearchResult {
		cut := maxSearchResult
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	return result
}
