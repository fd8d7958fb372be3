// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package constraint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/abcxyz/jitaccess/internal/errs"
)

// Engine compiles and evaluates CelConstraint expressions, caching the
// compiled cel.Program per (expression, variable-signature) pair so a
// policy loaded once and evaluated many times per request pays the
// parse/check cost only on first use. Mirrors the program-cache idiom used
// for quota CEL evaluation elsewhere in the ecosystem.
type Engine struct {
	programs sync.Map // map[string]cel.Program
}

// NewEngine constructs an empty, ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compile parses, type-checks, and caches the program for c, without
// evaluating it. Used by the policy parser's Pass 2 semantic validation to
// catch malformed CEL expressions at load time.
func (e *Engine) Compile(c CelConstraint) (cel.Program, error) {
	key := cacheKey(c)
	if v, ok := e.programs.Load(key); ok {
		return v.(cel.Program), nil
	}

	env, err := environmentFor(c.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL environment for constraint %q: %w", c.Name, err)
	}

	ast, issues := env.Parse(c.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", issues.Err())
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to type-check expression: %w", issues.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", checked.OutputType())
	}

	program, err := env.Program(checked, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}

	e.programs.Store(key, program)
	return program, nil
}

// Check evaluates c against input (already merged with declared defaults
// via CelConstraint.MergeInput). It returns a *errs.ConstraintUnsatisfied
// if the expression evaluates to false, or a *errs.ConstraintFailed if the
// expression fails to compile, references an undeclared variable, or
// errors during evaluation.
func (e *Engine) Check(c CelConstraint, input map[string]any) error {
	program, err := e.Compile(c)
	if err != nil {
		return errs.NewConstraintFailed(c.Name, err)
	}

	out, _, err := program.Eval(input)
	if err != nil {
		return errs.NewConstraintFailed(c.Name, fmt.Errorf("evaluation error: %w", err))
	}

	b, ok := out.Value().(bool)
	if !ok {
		return errs.NewConstraintFailed(c.Name, fmt.Errorf("expression returned non-bool value %v", out.Value()))
	}
	if !b {
		return errs.NewConstraintUnsatisfied(c.Name, "expression evaluated to false")
	}
	return nil
}

// environmentFor builds a *cel.Env declaring one CEL variable per
// TypedVariable, typed according to its VariableType.
func environmentFor(vars []TypedVariable) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		switch v.Type {
		case Boolean:
			opts = append(opts, cel.Variable(v.Name, cel.BoolType))
		case String:
			opts = append(opts, cel.Variable(v.Name, cel.StringType))
		case Long:
			opts = append(opts, cel.Variable(v.Name, cel.IntType))
		default:
			return nil, fmt.Errorf("variable %q has unknown type", v.Name)
		}
	}
	return cel.NewEnv(opts...)
}

// cacheKey derives a stable cache key from the expression text and the
// declared variable signature, so two constraints with the same text but
// different variable sets never collide.
func cacheKey(c CelConstraint) string {
	names := make([]string, len(c.Variables))
	for i, v := range c.Variables {
		names[i] = fmt.Sprintf("%s:%d", v.Name, v.Type)
	}
	sort.Strings(names)
	h := sha256.New()
	h.Write([]byte(c.Expression))
	h.Write([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
