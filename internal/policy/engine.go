package policy

import (
	"errors"
	"fmt"

	"github.com/wardenhq/warden/internal/domain"
)

// ErrPolicyNotFound is returned by Evaluate in strict mode when no rule
// matches the tool. With strict mode off, a missing rule resolves to allow.
var ErrPolicyNotFound = errors.New("policy: no rule for tool")

// Engine evaluates tool calls against the local policy snapshot.
//
// Resolution order: agent-specific rule, then global rule, then the
// default. The default is ALLOW with no amount cap and no approval.
// That fail-open posture is intentional; strict mode turns it into
// ErrPolicyNotFound instead.
type Engine struct {
	store  *Store
	strict bool
}

func NewEngine(store *Store, strict bool) *Engine {
	return &Engine{store: store, strict: strict}
}

// Evaluate resolves the decision for one tool call. amount is nil when the
// call carries no monetary amount.
func (e *Engine) Evaluate(agentKey, toolName string, amount *float64) (domain.Decision, error) {
	rule, ok := e.store.Lookup(agentKey, toolName)
	if !ok {
		if e.strict {
			return domain.Decision{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, toolName)
		}
		return domain.Decision{Status: domain.DecisionAllowed}, nil
	}

	return EvaluateRule(toolName, rule, amount), nil
}

// EvaluateRule applies one resolved rule to a call. The control plane runs
// the same function server-side so both sides produce identical decisions
// and reason strings. amount == max_amount passes; only amounts strictly
// above the cap are denied.
func EvaluateRule(toolName string, rule Rule, amount *float64) domain.Decision {
	if !rule.Allowed {
		return domain.Decision{
			Status: domain.DecisionDenied,
			Reason: fmt.Sprintf("tool %q is not allowed by policy", toolName),
		}
	}

	if rule.MaxAmount != nil && amount != nil && *amount > *rule.MaxAmount {
		return domain.Decision{
			Status: domain.DecisionDenied,
			Reason: fmt.Sprintf("amount %.2f exceeds maximum %.2f for tool %q", *amount, *rule.MaxAmount, toolName),
		}
	}

	if rule.RequiresApproval {
		return domain.Decision{
			Status: domain.DecisionPendingApproval,
			Reason: fmt.Sprintf("tool %q requires human approval", toolName),
		}
	}

	return domain.Decision{Status: domain.DecisionAllowed}
}
