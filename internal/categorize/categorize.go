// Package categorize fills in missing transaction categories with an LLM.
package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// DefaultCategories is used when the config lists none.
var DefaultCategories = []string{
	"Groceries", "Dining", "Transport", "Travel", "Shopping", "Bills & Utilities",
	"Rent & Mortgage", "Health", "Entertainment", "Income", "Transfers", "Fees", "Other",
}

// Categorizer assigns categories from a fixed list.
type Categorizer struct {
	model   Model
	allowed map[string]string // normalized -> canonical
	names   []string
}

// New returns a categorizer restricted to categories.
func New(model Model, categories []string) *Categorizer {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	c := &Categorizer{model: model, allowed: make(map[string]string, len(categories))}
	for _, name := range categories {
		key := normalizeCategory(name)
		if key == "" {
			continue
		}
		if _, dup := c.allowed[key]; dup {
			continue
		}
		c.allowed[key] = name
		c.names = append(c.names, name)
	}
	return c
}

// FromConfig builds a Gemini-backed categorizer, or returns nil when the
// stage is disabled.
func FromConfig(ctx context.Context, cfg *configstore.CategorizerConfig) (*Categorizer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	model, err := NewGemini(ctx, cfg.Model, cfg.Project, cfg.Location)
	if err != nil {
		return nil, err
	}
	return New(model, cfg.Categories), nil
}

type promptRow struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// Categorize sets Category on uncategorized transactions in place and
// returns how many were filled. Model failures are logged and leave the
// transactions untouched.
func (c *Categorizer) Categorize(ctx context.Context, txns []domain.Transaction) int {
	log := logger.FromContext(ctx)

	var rows []promptRow
	for _, t := range txns {
		if t.Category != "" {
			continue
		}
		rows = append(rows, promptRow{ID: t.ID, Date: t.Day(), Description: t.Description, Amount: t.Amount.String()})
	}
	if len(rows) == 0 {
		return 0
	}

	prompt, err := c.buildPrompt(rows)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build categorization prompt")
		return 0
	}

	raw, err := c.model.Generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Int("transactions", len(rows)).Msg("Categorization failed, continuing without categories")
		return 0
	}

	var answers map[string]string
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &answers); err != nil {
		log.Warn().Err(err).Str("raw_response", raw).Msg("Unparseable categorization response")
		return 0
	}

	filled, rejected := 0, 0
	for i := range txns {
		if txns[i].Category != "" {
			continue
		}
		answer, ok := answers[txns[i].ID]
		if !ok {
			continue
		}
		canonical, ok := c.allowed[normalizeCategory(answer)]
		if !ok {
			rejected++
			continue
		}
		txns[i].Category = canonical
		filled++
	}

	log.Info().
		Int("requested", len(rows)).
		Int("filled", filled).
		Int("rejected", rejected).
		Msg("Categorized transactions")
	return filled
}

func (c *Categorizer) buildPrompt(rows []promptRow) (string, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("buildPrompt: %w", err)
	}

	var b strings.Builder
	b.WriteString("You categorize personal bank transactions.\n\n")
	b.WriteString("Allowed categories:\n")
	for _, name := range c.names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("\nRules:\n" +
		"- Pick exactly one allowed category per transaction.\n" +
		"- Negative amounts are money out, positive amounts are money in.\n" +
		"- Output STRICT JSON only: an object mapping each transaction id to its category.\n" +
		"- Do NOT wrap the response in code fences.\n\n")
	b.WriteString("Transactions:\n")
	b.Write(payload)
	return b.String(), nil
}

// normalizeCategory normalizes a category name for comparison.
func normalizeCategory(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// cleanModelJSON strips Markdown fences and text around a JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
