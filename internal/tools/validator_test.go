package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_BlocksEmptySubmission(t *testing.T) {
	v := NewValidator()
	res := v.Validate("   ")
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, "Validation Error")
}

func TestValidator_BlocksOversizeSubmission(t *testing.T) {
	v := NewValidator()
	res := v.Validate(strings.Repeat("x", 6000))
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, "exceeds")
}

func TestValidator_BlocksSyntaxImbalance(t *testing.T) {
	v := NewValidator()
	res := v.Validate("print(1 + 2")
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, "Syntax error")
}

func TestValidator_BlocksDenylistedImport(t *testing.T) {
	v := NewValidator()
	res := v.Validate("import os\nprint(os.getcwd())")
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, `"os"`)
}

func TestValidator_AllowsAllowlistedImport(t *testing.T) {
	v := NewValidator()
	res := v.Validate("import math\nprint(math.sqrt(4))")
	assert.False(t, res.Blocked)
}

func TestValidator_WarnsOnUnusedFunction(t *testing.T) {
	v := NewValidator()
	res := v.Validate("def unused():\n    return 1\nprint('hi')")
	assert.False(t, res.Blocked)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidator_WarnsOnNoPrintOutput(t *testing.T) {
	v := NewValidator()
	res := v.Validate("x = 1 + 2")
	assert.False(t, res.Blocked)
	assert.Contains(t, strings.Join(res.Warnings, ";"), "print")
}

func TestValidator_NoWarningsWhenPrintPresent(t *testing.T) {
	v := NewValidator()
	res := v.Validate("x = 1 + 2\nprint(x)")
	assert.False(t, res.Blocked)
	assert.Empty(t, res.Warnings)
}
