package sharing

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/cel-go/cel"
)

// conditionEvaluator applies a policy's ordered condition list to a
// requesting tenant. Expression conditions are CEL programs over a
// string-map requester context; compiled programs are cached by source.
type conditionEvaluator struct {
	env      *cel.Env
	programs sync.Map // expression source -> cel.Program
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &conditionEvaluator{env: env}, nil
}

// Evaluate walks the conditions in order and returns a ForbiddenError for
// the first one the requester fails. A nil return means all conditions pass.
func (ce *conditionEvaluator) Evaluate(policy *models.SharingPolicy, requester *models.Tenant) error {
	for _, cond := range policy.Conditions {
		if err := ce.evaluateOne(cond, policy, requester); err != nil {
			return err
		}
	}
	return nil
}

func (ce *conditionEvaluator) evaluateOne(cond models.Condition, policy *models.SharingPolicy, requester *models.Tenant) error {
	switch cond.Type {
	case models.ConditionMinTier:
		min := models.Tier(cond.Value)
		if !min.Valid() {
			return &ValidationError{Reason: fmt.Sprintf("condition min_tier has unknown tier %q", cond.Value)}
		}
		if !requester.Tier.AtLeast(min) {
			return &ForbiddenError{Reason: fmt.Sprintf("requires tier %s or higher", cond.Value)}
		}
	case models.ConditionRegion:
		if requester.Region != cond.Value {
			return &ForbiddenError{Reason: fmt.Sprintf("restricted to region %s", cond.Value)}
		}
	case models.ConditionMaxCost:
		costCap, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("condition max_cost has non-numeric value %q", cond.Value)}
		}
		if policy.Pricing.UnitPrice > costCap {
			return &ForbiddenError{Reason: fmt.Sprintf("unit price exceeds cost cap %s", cond.Value)}
		}
	case models.ConditionExpression:
		ok, err := ce.evaluateExpression(cond.Value, requester)
		if err != nil {
			return err
		}
		if !ok {
			return &ForbiddenError{Reason: "requester does not satisfy policy expression"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown condition type %q", cond.Type)}
	}
	return nil
}

func (ce *conditionEvaluator) evaluateExpression(src string, requester *models.Tenant) (bool, error) {
	prg, err := ce.program(src)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"ctx": map[string]string{
			"tier":   string(requester.Tier),
			"region": requester.Region,
			"status": requester.Status,
		},
	})
	if err != nil {
		return false, &ValidationError{Reason: fmt.Sprintf("condition expression failed to evaluate: %v", err)}
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, &ValidationError{Reason: "condition expression is not boolean"}
	}
	return b, nil
}

func (ce *conditionEvaluator) program(src string) (cel.Program, error) {
	if cached, ok := ce.programs.Load(src); ok {
		return cached.(cel.Program), nil
	}
	ast, iss := ce.env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("condition expression does not compile: %v", iss.Err())}
	}
	prg, err := ce.env.Program(ast)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("condition expression does not compile: %v", err)}
	}
	ce.programs.Store(src, prg)
	return prg, nil
}
