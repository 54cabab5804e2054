// Package insight asks a generative model to audit a budget snapshot.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

// Generator turns a prompt into a JSON array of insights.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Auditor is what the CLI and HTTP handlers depend on.
type Auditor interface {
	Audit(ctx context.Context, budget domain.Budget, expenses []domain.Expense) []domain.AIInsight
}

// Service wraps a Generator. Audit never fails: collaborator errors become a warning insight.
type Service struct {
	Gen     Generator
	Timeout time.Duration
	Logger  *zap.Logger
}

const maxInsights = 5

// Audit returns at most five insights about budget and expenses.
func (s Service) Audit(ctx context.Context, budget domain.Budget, expenses []domain.Expense) []domain.AIInsight {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Gen == nil {
		return []domain.AIInsight{unavailable(apperr.ErrExternalServiceUnavailable)}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt, err := Prompt(budget, expenses)
	if err != nil {
		logger.Warn("insight prompt", zap.Error(err))
		return []domain.AIInsight{unavailable(err)}
	}
	start := time.Now()
	raw, err := s.Gen.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			err = fmt.Errorf("%w: timed out after %s", apperr.ErrExternalServiceUnavailable, timeout)
		}
		logger.Warn("insight generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return []domain.AIInsight{unavailable(err)}
	}
	insights, err := Parse(raw)
	if err != nil {
		logger.Warn("insight response rejected", zap.Error(err))
		return []domain.AIInsight{unavailable(err)}
	}
	logger.Debug("insight generated", zap.Int("count", len(insights)), zap.Duration("elapsed", time.Since(start)))
	return insights
}

// Prompt renders the audit request. Amounts are sent as decimal strings.
func Prompt(budget domain.Budget, expenses []domain.Expense) (string, error) {
	data, err := json.Marshal(struct {
		Budget   domain.Budget    `json:"budget"`
		Expenses []domain.Expense `json:"expenses"`
	}{budget, expenses})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are a financial auditor for a corporate CAPEX portfolio. ")
	b.WriteString("Review the budget and expenses below and return between 1 and 5 short findings. ")
	b.WriteString("Each finding has a title, a message and a type of success, warning or info. ")
	b.WriteString("Flag spending above income, missed savings targets and unusual categories.\n\n")
	b.Write(data)
	return b.String(), nil
}

// Parse decodes the model response. Unknown kinds fall back to info.
func Parse(raw string) ([]domain.AIInsight, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var items []domain.AIInsight
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return nil, fmt.Errorf("%w: malformed insight response: %v", apperr.ErrExternalServiceUnavailable, err)
	}
	out := make([]domain.AIInsight, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(it.Message) == "" {
			continue
		}
		if !it.Kind.Valid() {
			it.Kind = domain.InsightInfo
		}
		out = append(out, it)
		if len(out) == maxInsights {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty insight response", apperr.ErrExternalServiceUnavailable)
	}
	return out, nil
}

func unavailable(err error) domain.AIInsight {
	return domain.AIInsight{
		Title:   "Audit unavailable",
		Message: fmt.Sprintf("The automatic audit could not be completed: %v", err),
		Kind:    domain.InsightWarning,
	}
}
