package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// We should only be testing go-specific things here.
// Business logic test cases should be in the json test data when possible.

func TestInOperatorMatchesAcrossNumericTypes(t *testing.T) {
	if !operatorInFn(int(99), float64(99)) {
		t.Errorf("In operator got unexpected result from input: 99 == 99.0")
	}
	if !operatorInFn(float64(99), int(99)) {
		t.Errorf("In operator got unexpected result from input: 99.0 == 99")
	}
}

func TestLessThanOperator(t *testing.T) {
	if !operatorLessThanFn(int(1), float64(1.99999)) {
		t.Errorf("LessThan operator got unexpected result from input: 1 < 1.99")
	}
	if !operatorLessThanFn(int(1), uint(2)) {
		t.Errorf("LessThan operator got unexpected result from input: 1 < 2")
	}
}

func TestGreaterThanOperator(t *testing.T) {
	if !operatorGreaterThanFn(int(2), float64(1.99999)) {
		t.Errorf("GreaterThan operator got unexpected result from input: 2 > 1.99")
	}
	if !operatorGreaterThanFn(int(2), uint(1)) {
		t.Errorf("GreaterThan operator got unexpected result from input: 2 > 1")
	}
}

func TestStringOperatorsDoNotMatchNonStringValues(t *testing.T) {
	assert.False(t, operatorStartsWithFn(33, "3"))
	assert.False(t, operatorEndsWithFn(33, "3"))
	assert.False(t, operatorContainsFn(33, "3"))
	assert.False(t, operatorMatchesFn(33, "3"))
}

func TestMatchesOperatorWithInvalidRegexDoesNotMatch(t *testing.T) {
	assert.False(t, operatorMatchesFn("hello", "(unbalanced"))
}

func TestParseNilTime(t *testing.T) {
	if ParseTime(nil) != nil {
		t.Errorf("Didn't get expected error when parsing nil date")
	}
}

func TestParseInvalidTimestamp(t *testing.T) {
	if ParseTime("May 10, 1987") != nil {
		t.Errorf("Didn't get expected error when parsing invalid timestamp")
	}
}

func TestBeforeAndAfterOperators(t *testing.T) {
	earlier := "1985-04-12T23:20:50Z"
	later := float64(1000000000000) // 2001-09-09 in epoch millis

	assert.True(t, operatorBeforeFn(earlier, later))
	assert.False(t, operatorBeforeFn(later, earlier))
	assert.True(t, operatorAfterFn(later, earlier))
	assert.False(t, operatorAfterFn(earlier, later))
	assert.False(t, operatorBeforeFn(earlier, earlier))
}

func TestSemVerOperators(t *testing.T) {
	assert.True(t, operatorSemVerEqualFn("2.0.0", "2.0.0"))
	assert.True(t, operatorSemVerEqualFn("2.0", "2.0.0"))
	assert.True(t, operatorSemVerEqualFn("2", "2.0.0"))
	assert.False(t, operatorSemVerEqualFn("2.0.1", "2.0.0"))

	assert.True(t, operatorSemVerLessThanFn("2.0.0", "2.0.1"))
	assert.True(t, operatorSemVerLessThanFn("2.0.0-rc", "2.0.0"))
	assert.True(t, operatorSemVerLessThanFn("2.0.0-rc.1", "2.0.0-rc.2"))
	assert.False(t, operatorSemVerLessThanFn("2.0.1", "2.0.0"))

	assert.True(t, operatorSemVerGreaterThanFn("2.0.1", "2.0.0"))
	assert.False(t, operatorSemVerGreaterThanFn("2.0.0", "2.0.1"))
}

func TestSemVerOperatorsDoNotMatchInvalidVersions(t *testing.T) {
	for _, badValue := range []interface{}{"hello", "2.0.0.0", "2.", 2, nil} {
		assert.False(t, operatorSemVerEqualFn(badValue, "2.0.0"), "value: %v", badValue)
		assert.False(t, operatorSemVerLessThanFn(badValue, "2.0.0"), "value: %v", badValue)
		assert.False(t, operatorSemVerGreaterThanFn(badValue, "2.0.0"), "value: %v", badValue)
	}
}

func TestUnknownOperatorReturnsNoMatchFunction(t *testing.T) {
	fn := operatorFn("whatever")
	assert.False(t, fn("a", "a"))
}
