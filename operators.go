package ldclient

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/launchdarkly/go-semver"
)

// Operator describes an operator for a clause.
type Operator string

// List of available operators
const (
	OperatorIn                 Operator = "in"
	OperatorEndsWith           Operator = "endsWith"
	OperatorStartsWith         Operator = "startsWith"
	OperatorMatches            Operator = "matches"
	OperatorContains           Operator = "contains"
	OperatorLessThan           Operator = "lessThan"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorBefore             Operator = "before"
	OperatorAfter              Operator = "after"
	OperatorSegmentMatch       Operator = "segmentMatch"
	OperatorSemVerEqual        Operator = "semVerEqual"
	OperatorSemVerLessThan     Operator = "semVerLessThan"
	OperatorSemVerGreaterThan  Operator = "semVerGreaterThan"
)

type opFn (func(interface{}, interface{}) bool)

// Name returns the string name for an operator
func (op Operator) Name() string {
	return string(op)
}

var allOps = map[Operator]opFn{ //nolint:gochecknoglobals
	OperatorIn:                 operatorInFn,
	OperatorEndsWith:           operatorEndsWithFn,
	OperatorStartsWith:         operatorStartsWithFn,
	OperatorMatches:            operatorMatchesFn,
	OperatorContains:           operatorContainsFn,
	OperatorLessThan:           operatorLessThanFn,
	OperatorLessThanOrEqual:    operatorLessThanOrEqualFn,
	OperatorGreaterThan:        operatorGreaterThanFn,
	OperatorGreaterThanOrEqual: operatorGreaterThanOrEqualFn,
	OperatorBefore:             operatorBeforeFn,
	OperatorAfter:              operatorAfterFn,
	OperatorSemVerEqual:        operatorSemVerEqualFn,
	OperatorSemVerLessThan:     operatorSemVerLessThanFn,
	OperatorSemVerGreaterThan:  operatorSemVerGreaterThanFn,
}

// Turn this into a static map
func operatorFn(operator Operator) opFn {
	if op, ok := allOps[operator]; ok {
		return op
	}
	return operatorNoneFn
}

func operatorInFn(uValue interface{}, cValue interface{}) bool {
	if reflect.DeepEqual(uValue, cValue) {
		return true
	}
	// A numeric match is still a match even if the types differ, e.g. int 99 and float64 99
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u == c })
}

func stringOperator(uValue interface{}, cValue interface{}, fn func(string, string) bool) bool {
	if uStr, ok := uValue.(string); ok {
		if cStr, ok := cValue.(string); ok {
			return fn(uStr, cStr)
		}
	}
	return false
}

func operatorStartsWithFn(uValue interface{}, cValue interface{}) bool {
	return stringOperator(uValue, cValue, strings.HasPrefix)
}

func operatorEndsWithFn(uValue interface{}, cValue interface{}) bool {
	return stringOperator(uValue, cValue, strings.HasSuffix)
}

func operatorMatchesFn(uValue interface{}, cValue interface{}) bool {
	return stringOperator(uValue, cValue, func(u string, c string) bool {
		if matched, err := regexp.MatchString(c, u); err == nil {
			return matched
		}
		return false
	})
}

func operatorContainsFn(uValue interface{}, cValue interface{}) bool {
	return stringOperator(uValue, cValue, strings.Contains)
}

func numericOperator(uValue interface{}, cValue interface{}, fn func(float64, float64) bool) bool {
	uFloat64 := ParseFloat64(uValue)
	if uFloat64 != nil {
		cFloat64 := ParseFloat64(cValue)
		if cFloat64 != nil {
			return fn(*uFloat64, *cFloat64)
		}
	}
	return false
}

func operatorLessThanFn(uValue interface{}, cValue interface{}) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u < c })
}

func operatorLessThanOrEqualFn(uValue interface{}, cValue interface{}) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u <= c })
}

func operatorGreaterThanFn(uValue interface{}, cValue interface{}) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u > c })
}

func operatorGreaterThanOrEqualFn(uValue interface{}, cValue interface{}) bool {
	return numericOperator(uValue, cValue, func(u float64, c float64) bool { return u >= c })
}

func dateOperator(uValue interface{}, cValue interface{}, fn func(time.Time, time.Time) bool) bool {
	if uTime := ParseTime(uValue); uTime != nil {
		if cTime := ParseTime(cValue); cTime != nil {
			return fn(*uTime, *cTime)
		}
	}
	return false
}

func operatorBeforeFn(uValue interface{}, cValue interface{}) bool {
	return dateOperator(uValue, cValue, time.Time.Before)
}

func operatorAfterFn(uValue interface{}, cValue interface{}) bool {
	return dateOperator(uValue, cValue, time.Time.After)
}

// parseSemVer accepts a semantic version string, tolerating a missing minor or patch
// component ("2" and "2.0" both parse as 2.0.0).
func parseSemVer(value interface{}) (semver.Version, bool) {
	if versionStr, ok := value.(string); ok {
		if sv, err := semver.ParseAs(versionStr, semver.ParseModeAllowMissingMinorAndPatch); err == nil {
			return sv, true
		}
	}
	return semver.Version{}, false
}

func semVerOperator(uValue interface{}, cValue interface{}, fn func(semver.Version, semver.Version) bool) bool {
	if u, ok := parseSemVer(uValue); ok {
		if c, ok := parseSemVer(cValue); ok {
			return fn(u, c)
		}
	}
	return false
}

func operatorSemVerEqualFn(uValue interface{}, cValue interface{}) bool {
	return semVerOperator(uValue, cValue, func(u semver.Version, c semver.Version) bool {
		return u.ComparePrecedence(c) == 0
	})
}

func operatorSemVerLessThanFn(uValue interface{}, cValue interface{}) bool {
	return semVerOperator(uValue, cValue, func(u semver.Version, c semver.Version) bool {
		return u.ComparePrecedence(c) < 0
	})
}

func operatorSemVerGreaterThanFn(uValue interface{}, cValue interface{}) bool {
	return semVerOperator(uValue, cValue, func(u semver.Version, c semver.Version) bool {
		return u.ComparePrecedence(c) > 0
	})
}

func operatorNoneFn(uValue interface{}, cValue interface{}) bool {
	return false
}
