package ldclient

import (
	"crypto/sha1" //nolint:gas // SHA1 is required by the bucketing algorithm
	"encoding/hex"
	"io"
	"strconv"
)

const (
	longScale = float32(0xFFFFFFFFFFFFFFF)

	userKeyAttr = "key"
)

// FeatureFlag describes an individual feature flag.
type FeatureFlag struct {
	Key                    string             `json:"key" bson:"key"`
	Version                int                `json:"version" bson:"version"`
	On                     bool               `json:"on" bson:"on"`
	TrackEvents            bool               `json:"trackEvents" bson:"trackEvents"`
	TrackEventsFallthrough bool               `json:"trackEventsFallthrough" bson:"trackEventsFallthrough"`
	Deleted                bool               `json:"deleted" bson:"deleted"`
	Prerequisites          []Prerequisite     `json:"prerequisites" bson:"prerequisites"`
	Salt                   string             `json:"salt" bson:"salt"`
	ClientSide             bool               `json:"clientSide" bson:"-"`
	Targets                []Target           `json:"targets" bson:"targets"`
	Rules                  []Rule             `json:"rules" bson:"rules"`
	Fallthrough            VariationOrRollout `json:"fallthrough" bson:"fallthrough"`
	OffVariation           *int               `json:"offVariation" bson:"offVariation"`
	Variations             []interface{}      `json:"variations" bson:"variations"`
	DebugEventsUntilDate   *uint64            `json:"debugEventsUntilDate,omitempty" bson:"debugEventsUntilDate,omitempty"`
}

// GetKey returns the string key for the feature flag.
func (f *FeatureFlag) GetKey() string {
	return f.Key
}

// GetVersion returns the version of a flag.
func (f *FeatureFlag) GetVersion() int {
	return f.Version
}

// IsDeleted returns whether a flag has been deleted.
func (f *FeatureFlag) IsDeleted() bool {
	return f.Deleted
}

// Clone returns a copy of a flag.
func (f *FeatureFlag) Clone() VersionedData {
	f1 := *f
	return &f1
}

// Prerequisite describes a requirement that another feature flag return a specific variation
// for this flag to be evaluated normally.
type Prerequisite struct {
	Key       string `json:"key"`
	Variation int    `json:"variation"`
}

// Target describes a set of users who will receive a specific variation.
type Target struct {
	Values    []string `json:"values"`
	Variation int      `json:"variation"`
}

// Rule expresses a set of AND-ed matching conditions for a user, along with either the fixed
// variation or percent rollout to serve if the conditions match.
type Rule struct {
	Id string `json:"id,omitempty" bson:"id,omitempty"` //nolint:golint
	VariationOrRollout
	Clauses []Clause `json:"clauses" bson:"clauses"`
	// TrackEvents, if true, causes a full event to be sent for any evaluation that matched
	// this rule, regardless of the flag-level TrackEvents setting.
	TrackEvents bool `json:"trackEvents" bson:"trackEvents"`
}

// VariationOrRollout contains either the fixed variation or percent rollout to serve.
// Invariant: one of the variation or rollout must be non-nil.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty" bson:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty" bson:"rollout,omitempty"`
}

// RolloutKind describes whether a rollout is a simple percentage rollout or represents an
// experiment. Experiments have different behaviors for tracking and variation bucketing.
type RolloutKind string

const (
	// RolloutKindRollout represents a simple percentage rollout. This is the default kind.
	RolloutKindRollout RolloutKind = "rollout"
	// RolloutKindExperiment represents an experiment. Experiments have different behaviors
	// for tracking and variation bucketing.
	RolloutKindExperiment RolloutKind = "experiment"
)

// Rollout describes how users will be bucketed into variations during a percentage rollout.
type Rollout struct {
	Kind       RolloutKind         `json:"kind,omitempty" bson:"kind,omitempty"`
	Variations []WeightedVariation `json:"variations" bson:"variations"`
	BucketBy   *string             `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
	// Seed, if present, specifies a fixed alternate hashing seed so that an experiment's
	// bucketing is independent of the flag key and salt.
	Seed *int64 `json:"seed,omitempty" bson:"seed,omitempty"`
}

// IsExperiment returns whether this rollout represents an experiment.
func (r Rollout) IsExperiment() bool {
	return r.Kind == RolloutKindExperiment
}

// WeightedVariation describes a fraction of users who will receive a specific variation.
type WeightedVariation struct {
	Variation int `json:"variation" bson:"variation"`
	Weight    int `json:"weight" bson:"weight"`
	// Untracked means that users in this bucket should not have tracking events sent even
	// though the rollout is an experiment.
	Untracked bool `json:"untracked,omitempty" bson:"untracked,omitempty"`
}

// Clause describes an individual clause within a targeting rule.
type Clause struct {
	Attribute string        `json:"attribute" bson:"attribute"`
	Op        Operator      `json:"op" bson:"op"`
	Values    []interface{} `json:"values" bson:"values"` // An array, interpreted as an OR of values
	Negate    bool          `json:"negate" bson:"negate"`
}

// bigSegmentProvider is the subset of big segment functionality the evaluator needs. It is
// implemented by bigSegmentStoreManager; evaluations run without one when no big segment
// store is configured.
type bigSegmentProvider interface {
	getUserMembership(userKey string) (BigSegmentMembership, BigSegmentsStatus)
}

// evaluationScope holds the state of a single evaluation: the user, data source accessors,
// side effects (prerequisite events), and big segment query state. Big segment membership is
// queried at most once per evaluation no matter how many segments reference it.
type evaluationScope struct {
	user                User
	store               FeatureStore
	sendReasonsInEvents bool
	bigSegments         bigSegmentProvider
	bigSegmentsStatus   BigSegmentsStatus
	bigSegmentsUserDone bool
	bigSegmentsUser     BigSegmentMembership
	prereqChain         []string
	prereqEvents        []FeatureRequestEvent
}

// EvaluateDetail attempts to evaluate the feature flag for the given user and returns its
// value, the reason for that value, and any events that were generated by prerequisite flags.
func (f FeatureFlag) EvaluateDetail(user User, store FeatureStore, sendReasonsInEvents bool) (EvaluationDetail, []FeatureRequestEvent) {
	return f.evaluateDetail(user, store, sendReasonsInEvents, nil)
}

func (f FeatureFlag) evaluateDetail(user User, store FeatureStore, sendReasonsInEvents bool,
	bigSegments bigSegmentProvider) (EvaluationDetail, []FeatureRequestEvent) {
	if user.Key == nil || *user.Key == "" {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorUserNotSpecified)}, nil
	}
	scope := evaluationScope{
		user:                user,
		store:               store,
		sendReasonsInEvents: sendReasonsInEvents,
		bigSegments:         bigSegments,
	}
	detail := scope.evaluate(&f)
	if scope.bigSegmentsStatus != "" {
		detail.Reason = reasonWithBigSegmentsStatus(detail.Reason, scope.bigSegmentsStatus)
	}
	return detail, scope.prereqEvents
}

func (s *evaluationScope) evaluate(f *FeatureFlag) EvaluationDetail {
	if !f.On {
		return f.getOffValue(newEvalReasonOff())
	}

	prereqErrorReason, ok := s.checkPrerequisites(f)
	if !ok {
		if prereqErrorReason.GetKind() == EvalReasonError {
			return EvaluationDetail{Reason: prereqErrorReason}
		}
		return f.getOffValue(prereqErrorReason)
	}

	// Check to see if any user targets match
	for _, target := range f.Targets {
		for _, value := range target.Values {
			if value == *s.user.Key {
				return f.getVariation(target.Variation, newEvalReasonTargetMatch())
			}
		}
	}

	// Now walk through the rules to see if any match
	for ruleIndex := range f.Rules {
		rule := &f.Rules[ruleIndex]
		if s.ruleMatchesUser(rule) {
			index, inExperiment := rule.variationIndexForUser(s.user, f.Key, f.Salt)
			if index == nil {
				return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
			}
			return f.getVariation(*index, newEvalReasonRuleMatch(ruleIndex, rule.Id, inExperiment))
		}
	}

	// Walk through the fallthrough and see if it matches
	index, inExperiment := f.Fallthrough.variationIndexForUser(s.user, f.Key, f.Salt)
	if index == nil {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
	}
	return f.getVariation(*index, newEvalReasonFallthrough(inExperiment))
}

// checkPrerequisites checks whether all of the flag's prerequisites are satisfied. If not, the
// first return value is either a PREREQUISITE_FAILED reason or, if the prerequisites form a
// cycle, a MALFORMED_FLAG error reason.
func (s *evaluationScope) checkPrerequisites(f *FeatureFlag) (EvaluationReason, bool) {
	if len(f.Prerequisites) == 0 {
		return nil, true
	}
	s.prereqChain = append(s.prereqChain, f.Key)
	defer func() {
		s.prereqChain = s.prereqChain[:len(s.prereqChain)-1]
	}()

	for _, prereq := range f.Prerequisites {
		for _, ancestor := range s.prereqChain {
			if ancestor == prereq.Key {
				// A cycle can only happen with data from a file or test fixture; the service
				// will not produce one. We treat it like any other malformed flag.
				return newEvalReasonError(EvalErrorMalformedFlag), false
			}
		}
		prereqData, err := s.store.Get(Features, prereq.Key)
		if err != nil || prereqData == nil {
			return newEvalReasonPrerequisiteFailed(prereq.Key), false
		}
		prereqFlag, ok := prereqData.(*FeatureFlag)
		if !ok {
			return newEvalReasonPrerequisiteFailed(prereq.Key), false
		}

		prereqResult := s.evaluate(prereqFlag)
		if prereqResult.Reason != nil && prereqResult.Reason.GetKind() == EvalReasonError {
			return prereqResult.Reason, false
		}
		prereqOK := prereqFlag.On && prereqResult.VariationIndex != nil &&
			*prereqResult.VariationIndex == prereq.Variation
		event := newSuccessfulEvalEvent(prereqFlag, s.user, prereqResult.VariationIndex,
			prereqResult.Value, nil, prereqResult.Reason, s.sendReasonsInEvents, &f.Key)
		s.prereqEvents = append(s.prereqEvents, event)
		if !prereqOK {
			return newEvalReasonPrerequisiteFailed(prereq.Key), false
		}
	}
	return nil, true
}

func (f *FeatureFlag) getVariation(index int, reason EvaluationReason) EvaluationDetail {
	if index < 0 || index >= len(f.Variations) {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
	}
	return EvaluationDetail{
		Value:          f.Variations[index],
		VariationIndex: &index,
		Reason:         reason,
	}
}

func (f *FeatureFlag) getOffValue(reason EvaluationReason) EvaluationDetail {
	if f.OffVariation == nil {
		return EvaluationDetail{Reason: reason}
	}
	return f.getVariation(*f.OffVariation, reason)
}

func (s *evaluationScope) ruleMatchesUser(rule *Rule) bool {
	for i := range rule.Clauses {
		if !s.clauseMatchesUser(&rule.Clauses[i]) {
			return false
		}
	}
	return true
}

func (s *evaluationScope) clauseMatchesUser(clause *Clause) bool {
	// In the case of a segment match operator, we check if the user is in any of the segments,
	// and possibly negate
	if clause.Op == OperatorSegmentMatch {
		for _, value := range clause.Values {
			if segmentKey, ok := value.(string); ok {
				segmentData, _ := s.store.Get(Segments, segmentKey)
				if segment, ok := segmentData.(*Segment); ok && segment != nil {
					if s.segmentContainsUser(segment) {
						return maybeNegate(*clause, true)
					}
				}
			}
		}
		return maybeNegate(*clause, false)
	}
	return clause.matchesUserNoSegments(s.user)
}

func maybeNegate(clause Clause, b bool) bool {
	if clause.Negate {
		return !b
	}
	return b
}

func (c Clause) matchesUserNoSegments(user User) bool {
	uValue := user.valueOf(c.Attribute)
	if uValue == nil {
		// if the user attribute is null/missing, it's an automatic non-match - regardless
		// of whether Negate is true
		return false
	}
	matchFn := operatorFn(c.Op)

	// If the user value is an array or slice, see if the intersection is non-empty. If so,
	// this clause matches
	if valueList, ok := uValue.([]interface{}); ok {
		for _, element := range valueList {
			if c.matchAny(matchFn, element) {
				return maybeNegate(c, true)
			}
		}
		return maybeNegate(c, false)
	}
	return maybeNegate(c, c.matchAny(matchFn, uValue))
}

func (c Clause) matchAny(fn opFn, value interface{}) bool {
	for _, v := range c.Values {
		if fn(value, v) {
			return true
		}
	}
	return false
}

// variationIndexForUser returns the variation a rollout assigns to the user, and whether the
// user is in a tracked experiment bucket. A nil index means the rollout was malformed.
func (r VariationOrRollout) variationIndexForUser(user User, key, salt string) (*int, bool) {
	if r.Variation != nil {
		return r.Variation, false
	}
	if r.Rollout == nil || len(r.Rollout.Variations) == 0 {
		// This is an error state: variationIndexForUser is being used with a rollout that
		// has no variations.
		return nil, false
	}

	isExperiment := r.Rollout.IsExperiment()
	bucketBy := userKeyAttr
	if r.Rollout.BucketBy != nil && !isExperiment {
		bucketBy = *r.Rollout.BucketBy
	}

	bucket := bucketUser(user, key, bucketBy, salt, r.Rollout.Seed, isExperiment)
	sum := float32(0.0)

	for _, wv := range r.Rollout.Variations {
		sum += float32(wv.Weight) / 100000.0
		if bucket < sum {
			return &wv.Variation, isExperiment && !wv.Untracked
		}
	}
	// The user's bucket value was greater than or equal to the end of the last bucket. This
	// could happen due to a rounding error, or due to the fact that the sum of the weights is
	// less than 100000. In either case, we use the last bucket.
	lastVariation := r.Rollout.Variations[len(r.Rollout.Variations)-1]
	return &lastVariation.Variation, isExperiment && !lastVariation.Untracked
}

// bucketUser returns a number in [0, 1) deterministically derived from the user's bucketing
// attribute. Experiments with a seed hash the seed instead of the key and salt, and never
// use the secondary key.
func bucketUser(user User, key, attr, salt string, seed *int64, isExperiment bool) float32 {
	uValue := user.valueOf(attr)
	idHash, ok := bucketableStringValue(uValue)
	if !ok {
		return 0
	}

	if !isExperiment && user.Secondary != nil {
		idHash = idHash + "." + *user.Secondary
	}

	prefix := key + "." + salt
	if seed != nil {
		prefix = strconv.FormatInt(*seed, 10)
	}

	h := sha1.New() //nolint:gas
	_, _ = io.WriteString(h, prefix+"."+idHash)
	hash := hex.EncodeToString(h.Sum(nil))[:15]

	intVal, _ := strconv.ParseInt(hash, 16, 64)

	return float32(intVal) / longScale
}

// bucketableStringValue returns the string form of an attribute value for bucketing. Strings
// are used as-is; whole numbers are converted to their decimal form; any other type cannot
// be used for bucketing.
func bucketableStringValue(uValue interface{}) (string, bool) {
	if s, ok := uValue.(string); ok {
		return s, true
	}
	if f, ok := uValue.(float64); ok {
		if f == float64(int(f)) {
			return strconv.Itoa(int(f)), true
		}
	}
	if i, ok := uValue.(int); ok {
		return strconv.Itoa(i), true
	}
	return "", false
}
