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

// Package constraint implements the CEL-backed constraint engine (spec
// component C5): compiling and evaluating CelConstraint boolean
// expressions against a typed input record, plus the IamCondition dialect
// used to express temporary-access windows on cloud IAM bindings.
package constraint

import (
	"fmt"
	"regexp"
)

// VariableType is the type tag of a TypedVariable.
type VariableType int

const (
	// Boolean declares a bool-typed input variable.
	Boolean VariableType = iota
	// String declares a string-typed input variable, optionally constrained
	// by a regular expression.
	String
	// Long declares an int64-typed input variable, optionally bounded by a range.
	Long
)

// LongRange bounds a Long-typed variable's acceptable values, inclusive.
type LongRange struct {
	Min, Max int64
}

// TypedVariable declares one input slot a CelConstraint's expression may
// reference, with an optional default and optional value constraint.
type TypedVariable struct {
	Name    string
	Type    VariableType
	Pattern *regexp.Regexp // only meaningful when Type == String
	Range   *LongRange     // only meaningful when Type == Long
	Default any
}

// ValidateValue reports whether v is an acceptable value for this
// variable: right Go type, and (if declared) matching Pattern or within
// Range.
func (tv TypedVariable) ValidateValue(v any) error {
	switch tv.Type {
	case Boolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("variable %q expects a bool, got %T", tv.Name, v)
		}
	case String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("variable %q expects a string, got %T", tv.Name, v)
		}
		if tv.Pattern != nil && !tv.Pattern.MatchString(s) {
			return fmt.Errorf("variable %q value %q does not match pattern %q", tv.Name, s, tv.Pattern.String())
		}
	case Long:
		n, ok := asInt64(v)
		if !ok {
			return fmt.Errorf("variable %q expects an integer, got %T", tv.Name, v)
		}
		if tv.Range != nil && (n < tv.Range.Min || n > tv.Range.Max) {
			return fmt.Errorf("variable %q value %d out of range [%d, %d]", tv.Name, n, tv.Range.Min, tv.Range.Max)
		}
	default:
		return fmt.Errorf("variable %q has unknown type", tv.Name)
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
