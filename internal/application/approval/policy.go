package approval

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
)

// Decision is the outcome of evaluating an entry against a campaign's
// approval policy.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionManual  Decision = "MANUAL"
)

// Policy decides whether an entry can be auto-approved for payout
// selection. Quest campaigns always require a human pick, coverage
// campaigns may carry an expression evaluated against entry evidence.
type Policy interface {
	Evaluate(flavor campaign.Flavor, evidence json.RawMessage) (Decision, error)
}

// ManualPolicy defers every entry to the creator.
type ManualPolicy struct{}

func (ManualPolicy) Evaluate(campaign.Flavor, json.RawMessage) (Decision, error) {
	return DecisionManual, nil
}

// ExpressionPolicy evaluates a boolean expression against the flattened
// evidence document. An empty expression approves everything, which
// matches parametric coverage where the trigger was already checked
// upstream.
type ExpressionPolicy struct {
	Expression string
}

func (p ExpressionPolicy) Evaluate(flavor campaign.Flavor, evidence json.RawMessage) (Decision, error) {
	if flavor == campaign.FlavorQuest {
		return DecisionManual, nil
	}
	ok, err := evaluateExpression(p.Expression, evidence)
	if err != nil {
		return DecisionManual, err
	}
	if ok {
		return DecisionApprove, nil
	}
	return DecisionReject, nil
}

// evaluateExpression evaluates a condition expression against a JSON
// document. Empty expression returns true. Supports "true"/"false"
// literals.
func evaluateExpression(expression string, doc json.RawMessage) (bool, error) {
	cond := strings.TrimSpace(expression)
	if cond == "" {
		return true, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	params := buildParams(doc)
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("expression did not evaluate to boolean")
	}
}

func buildParams(doc json.RawMessage) map[string]interface{} {
	params := map[string]interface{}{}
	if len(doc) == 0 {
		return params
	}
	var raw interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return params
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			params[k] = v
		}
		flattenParams("", m, params)
	}
	return params
}

func flattenParams(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenParams(key, vv, out)
		default:
			out[key] = vv
		}
	}
}
