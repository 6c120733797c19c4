package validation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/puckledger/treasury-api/internal/models"
)

// Score deductions per violation severity.
var severityWeights = map[models.ViolationSeverity]int{
	models.ViolationInfo:     0,
	models.ViolationWarning:  10,
	models.ViolationError:    20,
	models.ViolationCritical: 40,
}

// SkipObserver is told about every rule that did not run to completion.
type SkipObserver func(check models.CheckName, reason string)

// Engine runs the rule catalog against a transaction. It holds no per-call state.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
	onSkip SkipObserver
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the default catalog.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

// WithLogger attaches a logger for skipped rules.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSkipObserver registers a callback for skipped or failed rules.
func WithSkipObserver(fn SkipObserver) Option {
	return func(e *Engine) {
		e.onSkip = fn
	}
}

// NewEngine builds an engine over DefaultRules unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{rules: DefaultRules(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs every rule and returns a fresh result. It never fails: a rule that errors or
// panics is recorded as not run.
func (e *Engine) Validate(tx *models.Transaction, vctx Context) models.ValidationResult {
	result := models.ValidationResult{
		Violations:  []models.Violation{},
		ValidatedAt: vctx.Now,
		ChecksRun:   make(map[models.CheckName]models.CheckOutcome, len(e.rules)),
	}

	for _, rule := range e.rules {
		check := rule.Check()
		if ok, reason := rule.Applies(tx, &vctx); !ok {
			result.ChecksRun[check] = models.CheckOutcome{Ran: false, SkipReason: reason}
			continue
		}

		v, err := e.evaluate(rule, tx, &vctx)
		if err != nil {
			result.ChecksRun[check] = models.CheckOutcome{Ran: false, SkipReason: err.Error()}
			e.logger.Debug("validation rule skipped",
				zap.String("check", string(check)),
				zap.String("transaction_id", tx.ID),
				zap.Error(err),
			)
			if e.onSkip != nil {
				e.onSkip(check, err.Error())
			}
			continue
		}

		result.ChecksRun[check] = models.CheckOutcome{Ran: true}
		if v != nil {
			result.Violations = append(result.Violations, *v)
		}
	}

	result.Compliant = len(result.Violations) == 0
	result.Score = Score(result.Violations)
	return result
}

func (e *Engine) evaluate(rule Rule, tx *models.Transaction, vctx *Context) (v *models.Violation, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = fmt.Errorf("rule panicked: %v", p)
		}
	}()
	return rule.Evaluate(tx, vctx)
}

// Score is 100 minus the severity deductions, floored at zero.
func Score(violations []models.Violation) int {
	score := 100
	for _, v := range violations {
		score -= severityWeights[v.Severity]
	}
	if score < 0 {
		return 0
	}
	return score
}
