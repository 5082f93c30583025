package categorize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// MockModel is a function-field fake of Model.
type MockModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateFunc(ctx, prompt)
}

func txns() []domain.Transaction {
	d, _ := domain.ParseDay("2024-01-05")
	return []domain.Transaction{
		{ID: "t1", Date: d, Amount: decimal.RequireFromString("-4.50"), Description: "TESCO STORES"},
		{ID: "t2", Date: d, Amount: decimal.RequireFromString("-20"), Description: "UBER TRIP", Category: "Transport"},
		{ID: "t3", Date: d, Amount: decimal.RequireFromString("-9.99"), Description: "MYSTERY"},
	}
}

func TestCategorize_FillsOnlyAllowedAnswers(t *testing.T) {
	var prompt string
	model := &MockModel{GenerateFunc: func(ctx context.Context, p string) (string, error) {
		prompt = p
		return "```json\n{\"t1\": \"groceries\", \"t3\": \"Crypto\", \"t2\": \"Dining\"}\n```", nil
	}}

	list := txns()
	n := New(model, []string{"Groceries", "Transport", "Dining"}).Categorize(context.Background(), list)
	if n != 1 {
		t.Errorf("filled = %d, want 1", n)
	}

	got := []string{list[0].Category, list[1].Category, list[2].Category}
	if diff := cmp.Diff([]string{"Groceries", "Transport", ""}, got); diff != "" {
		t.Errorf("categories (-want +got):\n%s", diff)
	}
	if strings.Contains(prompt, "UBER TRIP") {
		t.Error("already categorized transactions should not be sent")
	}
	if !strings.Contains(prompt, "- Dining\n") || !strings.Contains(prompt, "TESCO STORES") {
		t.Errorf("prompt missing categories or rows:\n%s", prompt)
	}
}

func TestCategorize_ModelFailureLeavesTransactions(t *testing.T) {
	model := &MockModel{GenerateFunc: func(ctx context.Context, p string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	list := txns()
	if n := New(model, nil).Categorize(context.Background(), list); n != 0 {
		t.Errorf("filled = %d, want 0", n)
	}
	if list[0].Category != "" {
		t.Errorf("category = %q, want empty", list[0].Category)
	}
}

func TestCategorize_GarbageResponse(t *testing.T) {
	model := &MockModel{GenerateFunc: func(ctx context.Context, p string) (string, error) {
		return "I think these are groceries", nil
	}}
	if n := New(model, nil).Categorize(context.Background(), txns()); n != 0 {
		t.Errorf("filled = %d, want 0", n)
	}
}

func TestCategorize_NothingToDo(t *testing.T) {
	model := &MockModel{GenerateFunc: func(ctx context.Context, p string) (string, error) {
		t.Fatal("model should not be called")
		return "", nil
	}}
	list := []domain.Transaction{{ID: "a", Category: "Fees"}}
	if n := New(model, nil).Categorize(context.Background(), list); n != 0 {
		t.Errorf("filled = %d", n)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":"b"}`, `{"a":"b"}`},
		{"```json\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"Sure! {\"a\":\"b\"} hope that helps", `{"a":"b"}`},
	}
	for _, tt := range tests {
		if got := cleanModelJSON(tt.in); got != tt.want {
			t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromConfig_Disabled(t *testing.T) {
	c, err := FromConfig(context.Background(), nil)
	if err != nil || c != nil {
		t.Errorf("FromConfig(nil) = %v, %v", c, err)
	}
}
