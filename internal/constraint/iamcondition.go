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
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// IamCondition is a CEL expression representing a temporary-access window
// on a cloud IAM binding, e.g.
// `request.time >= timestamp("...") && request.time < timestamp("...")`.
type IamCondition struct {
	Expression string
}

// NewTemporaryIamCondition builds the IamCondition for a grant starting at
// start and lasting duration. Timestamps are rendered in RFC-3339 (UTC).
func NewTemporaryIamCondition(start time.Time, duration time.Duration) IamCondition {
	end := start.Add(duration)
	expr := fmt.Sprintf(
		`request.time >= timestamp("%s") && request.time < timestamp("%s")`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	return IamCondition{Expression: expr}
}

// String renders the condition's CEL expression.
func (c IamCondition) String() string { return c.Expression }

var iamConditionEnv = mustIamConditionEnv()

func mustIamConditionEnv() *cel.Env {
	env, err := cel.NewEnv(cel.Variable("request.time", cel.TimestampType))
	if err != nil {
		panic(fmt.Sprintf("constraint: failed to build IamCondition CEL environment: %v", err))
	}
	return env
}

// Evaluate compiles and evaluates c with a synthetic `request.time = now`.
// Compile errors are returned directly; callers performing live policy
// validation should wrap them as errs.ConstraintFailed, callers
// reconciling live bindings should treat them as audit events.
func (c IamCondition) Evaluate(now time.Time) (bool, error) {
	ast, issues := iamConditionEnv.Parse(c.Expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to parse IAM condition: %w", issues.Err())
	}
	checked, issues := iamConditionEnv.Check(ast)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to type-check IAM condition: %w", issues.Err())
	}
	program, err := iamConditionEnv.Program(checked)
	if err != nil {
		return false, fmt.Errorf("failed to build IAM condition program: %w", err)
	}

	out, _, err := program.Eval(map[string]any{"request.time": now.UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate IAM condition: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("IAM condition did not evaluate to bool, got %v", out.Value())
	}
	return b, nil
}
