package promo

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// RuleEvaluator compiles and caches restriction rules written in CEL, e.g.
//
//	cart_total >= 3000 && !guest
//	completed_orders >= 5
type RuleEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func NewRuleEvaluator() *RuleEvaluator {
	env, err := cel.NewEnv(
		cel.Variable("cart_total", cel.IntType),
		cel.Variable("completed_orders", cel.IntType),
		cel.Variable("guest", cel.BoolType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("promo: build rule environment: %v", err))
	}
	return &RuleEvaluator{env: env, programs: map[string]cel.Program{}}
}

// Compile checks that rule is a boolean expression over the known variables.
func (e *RuleEvaluator) Compile(rule string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[rule]; ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(rule)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile rule: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}
	e.programs[rule] = prg
	return prg, nil
}

// Eval runs rule for the given cart and customer. A nil customer is a guest.
func (e *RuleEvaluator) Eval(rule string, cartTotal int64, cust *Customer) (bool, error) {
	prg, err := e.Compile(rule)
	if err != nil {
		return false, err
	}
	vars := map[string]any{
		"cart_total":       cartTotal,
		"completed_orders": int64(0),
		"guest":            cust == nil,
		"user_id":          "",
	}
	if cust != nil {
		vars["completed_orders"] = int64(cust.CompletedOrders)
		vars["user_id"] = cust.UserID
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate rule: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("rule returned %T", out.Value())
	}
	return ok, nil
}
