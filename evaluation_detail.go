package ldclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EvalReasonKind defines the possible values of the Kind property of EvaluationReason.
type EvalReasonKind string

const (
	// EvalReasonOff indicates that the flag was off and therefore returned its configured off value.
	EvalReasonOff EvalReasonKind = "OFF"
	// EvalReasonTargetMatch indicates that the user key was specifically targeted for this flag.
	EvalReasonTargetMatch EvalReasonKind = "TARGET_MATCH"
	// EvalReasonRuleMatch indicates that the user matched one of the flag's rules.
	EvalReasonRuleMatch EvalReasonKind = "RULE_MATCH"
	// EvalReasonPrerequisiteFailed indicates that the flag was considered off because it had at
	// least one prerequisite flag that either was off or did not return the desired variation.
	EvalReasonPrerequisiteFailed EvalReasonKind = "PREREQUISITE_FAILED"
	// EvalReasonFallthrough indicates that the flag was on but the user did not match any targets
	// or rules.
	EvalReasonFallthrough EvalReasonKind = "FALLTHROUGH"
	// EvalReasonError indicates that the flag could not be evaluated, e.g. because it does not
	// exist or due to an unexpected error. In this case the result value will be the default value
	// that the caller passed to the client.
	EvalReasonError EvalReasonKind = "ERROR"
)

// EvalErrorKind defines the possible values of the ErrorKind property of EvaluationReasonError.
type EvalErrorKind string

const (
	// EvalErrorClientNotReady indicates that the caller tried to evaluate a flag before the client
	// had successfully initialized.
	EvalErrorClientNotReady EvalErrorKind = "CLIENT_NOT_READY"
	// EvalErrorFlagNotFound indicates that the caller provided a flag key that did not match any
	// known flag.
	EvalErrorFlagNotFound EvalErrorKind = "FLAG_NOT_FOUND"
	// EvalErrorMalformedFlag indicates that there was an internal inconsistency in the flag data,
	// e.g. a rule specified a nonexistent variation, or the flag's prerequisites form a cycle.
	EvalErrorMalformedFlag EvalErrorKind = "MALFORMED_FLAG"
	// EvalErrorUserNotSpecified indicates that the caller passed a user without a key for the
	// user parameter.
	EvalErrorUserNotSpecified EvalErrorKind = "USER_NOT_SPECIFIED"
	// EvalErrorWrongType indicates that the result value was not of the requested type, e.g. you
	// called BoolVariationDetail but the value was an integer.
	EvalErrorWrongType EvalErrorKind = "WRONG_TYPE"
	// EvalErrorException indicates that an unexpected error stopped flag evaluation; check the
	// log for details.
	EvalErrorException EvalErrorKind = "EXCEPTION"
)

// BigSegmentsStatus describes the validity of a big segments query during an evaluation. It is
// attached to the evaluation reason whenever a flag references a big segment.
type BigSegmentsStatus string

const (
	// BigSegmentsHealthy indicates that the big segment query involved in the flag evaluation was
	// successful, and the segment state is considered up to date.
	BigSegmentsHealthy BigSegmentsStatus = "HEALTHY"
	// BigSegmentsStale indicates that the big segment query involved in the flag evaluation was
	// successful, but the segment state may not be up to date.
	BigSegmentsStale BigSegmentsStatus = "STALE"
	// BigSegmentsNotConfigured indicates that big segments could not be queried for the flag
	// evaluation because the SDK configuration did not include a big segment store.
	BigSegmentsNotConfigured BigSegmentsStatus = "NOT_CONFIGURED"
	// BigSegmentsStoreError indicates that the big segment query involved in the flag evaluation
	// failed, for instance due to a database error.
	BigSegmentsStoreError BigSegmentsStatus = "STORE_ERROR"
)

// EvaluationDetail is an object returned by the "VariationDetail" methods such as
// BoolVariationDetail, combining the result of a flag evaluation with an explanation of how
// it was calculated.
type EvaluationDetail struct {
	// Value is the result of the flag evaluation. This will be either one of the flag's
	// variations or the default value that was passed to the Variation method.
	Value interface{}
	// VariationIndex is the index of the returned value within the flag's list of variations,
	// e.g. 0 for the first variation. It is nil if the default value was returned.
	VariationIndex *int
	// Reason is an EvaluationReason object describing the main factor that influenced the
	// flag evaluation value.
	Reason EvaluationReason
}

// EvaluationReason describes the reason that a flag evaluation produced a particular value.
// It is an interface with a different implementation type for each possible reason kind.
type EvaluationReason interface {
	fmt.Stringer
	// GetKind describes the general category of the reason.
	GetKind() EvalReasonKind
	// GetBigSegmentsStatus describes the validity of big segment information, if and only if
	// the flag evaluation involved querying at least one big segment; otherwise it returns "".
	GetBigSegmentsStatus() BigSegmentsStatus
}

type evaluationReasonBase struct {
	// Kind describes the general category of the reason.
	Kind EvalReasonKind `json:"kind"`
	// BigSegmentsStatus is non-empty only if the evaluation involved at least one big segment.
	BigSegmentsStatus BigSegmentsStatus `json:"bigSegmentsStatus,omitempty"`
}

// GetKind describes the general category of the reason.
func (r evaluationReasonBase) GetKind() EvalReasonKind {
	return r.Kind
}

// GetBigSegmentsStatus describes the validity of big segment information, if any was queried.
func (r evaluationReasonBase) GetBigSegmentsStatus() BigSegmentsStatus {
	return r.BigSegmentsStatus
}

// EvaluationReasonOff means that the flag was off and therefore returned its configured off value.
type EvaluationReasonOff struct {
	evaluationReasonBase
}

func (r EvaluationReasonOff) String() string {
	return string(r.GetKind())
}

func newEvalReasonOff() EvaluationReasonOff {
	return EvaluationReasonOff{evaluationReasonBase{Kind: EvalReasonOff}}
}

// EvaluationReasonTargetMatch means that the user key was specifically targeted for this flag.
type EvaluationReasonTargetMatch struct {
	evaluationReasonBase
}

func (r EvaluationReasonTargetMatch) String() string {
	return string(r.GetKind())
}

func newEvalReasonTargetMatch() EvaluationReasonTargetMatch {
	return EvaluationReasonTargetMatch{evaluationReasonBase{Kind: EvalReasonTargetMatch}}
}

// EvaluationReasonRuleMatch means that the user matched one of the flag's rules.
type EvaluationReasonRuleMatch struct {
	evaluationReasonBase
	// RuleIndex is the index of the rule that was matched (0 for the first).
	RuleIndex int `json:"ruleIndex"`
	// RuleID is the unique identifier of the rule that was matched.
	RuleID string `json:"ruleId"`
	// InExperiment is true if the flag's rollout for this rule is an experiment and the user's
	// bucket was a tracked one.
	InExperiment bool `json:"inExperiment,omitempty"`
}

func (r EvaluationReasonRuleMatch) String() string {
	return fmt.Sprintf("%s(%d,%s)", r.GetKind(), r.RuleIndex, r.RuleID)
}

func newEvalReasonRuleMatch(ruleIndex int, ruleID string, inExperiment bool) EvaluationReasonRuleMatch {
	return EvaluationReasonRuleMatch{
		evaluationReasonBase: evaluationReasonBase{Kind: EvalReasonRuleMatch},
		RuleIndex:            ruleIndex,
		RuleID:               ruleID,
		InExperiment:         inExperiment,
	}
}

// EvaluationReasonPrerequisiteFailed means that the flag was considered off because it had at
// least one prerequisite flag that either was off or did not return the desired variation.
type EvaluationReasonPrerequisiteFailed struct {
	evaluationReasonBase
	// PrerequisiteKey is the flag key of the prerequisite that failed.
	PrerequisiteKey string `json:"prerequisiteKey"`
}

func (r EvaluationReasonPrerequisiteFailed) String() string {
	return fmt.Sprintf("%s(%s)", r.GetKind(), r.PrerequisiteKey)
}

func newEvalReasonPrerequisiteFailed(prereqKey string) EvaluationReasonPrerequisiteFailed {
	return EvaluationReasonPrerequisiteFailed{
		evaluationReasonBase: evaluationReasonBase{Kind: EvalReasonPrerequisiteFailed},
		PrerequisiteKey:      prereqKey,
	}
}

// EvaluationReasonFallthrough means that the flag was on but the user did not match any targets
// or rules.
type EvaluationReasonFallthrough struct {
	evaluationReasonBase
	// InExperiment is true if the flag's fallthrough rollout is an experiment and the user's
	// bucket was a tracked one.
	InExperiment bool `json:"inExperiment,omitempty"`
}

func (r EvaluationReasonFallthrough) String() string {
	return string(r.GetKind())
}

func newEvalReasonFallthrough(inExperiment bool) EvaluationReasonFallthrough {
	return EvaluationReasonFallthrough{
		evaluationReasonBase: evaluationReasonBase{Kind: EvalReasonFallthrough},
		InExperiment:         inExperiment,
	}
}

// EvaluationReasonError means that the flag could not be evaluated.
type EvaluationReasonError struct {
	evaluationReasonBase
	// ErrorKind describes the type of error.
	ErrorKind EvalErrorKind `json:"errorKind"`
}

func (r EvaluationReasonError) String() string {
	return fmt.Sprintf("%s(%s)", r.GetKind(), r.ErrorKind)
}

func newEvalReasonError(kind EvalErrorKind) EvaluationReasonError {
	return EvaluationReasonError{
		evaluationReasonBase: evaluationReasonBase{Kind: EvalReasonError},
		ErrorKind:            kind,
	}
}

// reasonWithBigSegmentsStatus returns a copy of the reason with its big segments status set.
// It is called at the end of any evaluation that queried at least one big segment.
func reasonWithBigSegmentsStatus(reason EvaluationReason, status BigSegmentsStatus) EvaluationReason {
	switch r := reason.(type) {
	case EvaluationReasonOff:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	case EvaluationReasonTargetMatch:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	case EvaluationReasonRuleMatch:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	case EvaluationReasonPrerequisiteFailed:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	case EvaluationReasonFallthrough:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	case EvaluationReasonError:
		r.evaluationReasonBase.BigSegmentsStatus = status
		return r
	}
	return reason
}

// EvaluationReasonContainer is used internally in cases where LaunchDarkly needs to unmarshal
// an EvaluationReason value from JSON. Application code will not normally use this type.
type EvaluationReasonContainer struct {
	Reason EvaluationReason
}

// MarshalJSON implements custom JSON serialization for EvaluationReasonContainer.
func (c EvaluationReasonContainer) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Reason)
}

// UnmarshalJSON implements custom JSON deserialization for EvaluationReasonContainer.
func (c *EvaluationReasonContainer) UnmarshalJSON(data []byte) error {
	var kindOnly struct {
		Kind EvalReasonKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &kindOnly); err != nil {
		return err
	}
	switch kindOnly.Kind {
	case EvalReasonOff:
		var r EvaluationReasonOff
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	case EvalReasonTargetMatch:
		var r EvaluationReasonTargetMatch
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	case EvalReasonRuleMatch:
		var r EvaluationReasonRuleMatch
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	case EvalReasonPrerequisiteFailed:
		var r EvaluationReasonPrerequisiteFailed
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	case EvalReasonFallthrough:
		var r EvaluationReasonFallthrough
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	case EvalReasonError:
		var r EvaluationReasonError
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		c.Reason = r
	default:
		return errors.New("unknown evaluation reason kind: " + string(kindOnly.Kind))
	}
	return nil
}
