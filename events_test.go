package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExperimentationIsDisabledForUnrelatedReasons(t *testing.T) {
	flag := FeatureFlag{Key: "flag"}
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonOff()))
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonTargetMatch()))
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonError(EvalErrorFlagNotFound)))
}

func TestExperimentationForFallthrough(t *testing.T) {
	flag := FeatureFlag{Key: "flag"}
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonFallthrough(false)))
	assert.True(t, flag.isExperimentationEnabled(newEvalReasonFallthrough(true)))

	flagTracked := FeatureFlag{Key: "flag", TrackEventsFallthrough: true}
	assert.True(t, flagTracked.isExperimentationEnabled(newEvalReasonFallthrough(false)))
}

func TestExperimentationForRuleMatch(t *testing.T) {
	flag := FeatureFlag{
		Key: "flag",
		Rules: []Rule{
			{Id: "rule0", TrackEvents: true},
			{Id: "rule1"},
		},
	}
	assert.True(t, flag.isExperimentationEnabled(newEvalReasonRuleMatch(0, "rule0", false)))
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonRuleMatch(1, "rule1", false)))
	assert.True(t, flag.isExperimentationEnabled(newEvalReasonRuleMatch(1, "rule1", true)))

	// out-of-range rule indices are tolerated
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonRuleMatch(2, "other", false)))
	assert.False(t, flag.isExperimentationEnabled(newEvalReasonRuleMatch(-1, "other", false)))
}

func TestSuccessfulEvalEventTrackingProperties(t *testing.T) {
	user := NewUser("userkey")
	flag := FeatureFlag{Key: "flag", Version: 10}

	e0 := newSuccessfulEvalEvent(&flag, user, intPtr(1), "v", "d", newEvalReasonFallthrough(false), false, nil)
	assert.False(t, e0.TrackEvents)
	assert.Nil(t, e0.Reason.Reason)

	flag.TrackEvents = true
	e1 := newSuccessfulEvalEvent(&flag, user, intPtr(1), "v", "d", newEvalReasonFallthrough(false), false, nil)
	assert.True(t, e1.TrackEvents)
	assert.Nil(t, e1.Reason.Reason)
	flag.TrackEvents = false

	// an experiment forces both tracking and a reason
	e2 := newSuccessfulEvalEvent(&flag, user, intPtr(1), "v", "d", newEvalReasonFallthrough(true), false, nil)
	assert.True(t, e2.TrackEvents)
	assert.Equal(t, newEvalReasonFallthrough(true), e2.Reason.Reason)

	e3 := newSuccessfulEvalEvent(&flag, user, intPtr(1), "v", "d", newEvalReasonFallthrough(false), true, nil)
	assert.False(t, e3.TrackEvents)
	assert.Equal(t, newEvalReasonFallthrough(false), e3.Reason.Reason)
}

func TestUnknownFlagEventHasNoVersionOrVariation(t *testing.T) {
	user := NewUser("userkey")
	e := newUnknownFlagEvent("bad-flag", user, "d", newEvalReasonError(EvalErrorFlagNotFound), true)
	assert.Equal(t, "bad-flag", e.Key)
	assert.Nil(t, e.Version)
	assert.Nil(t, e.Variation)
	assert.Equal(t, "d", e.Value)
	assert.Equal(t, "d", e.Default)
	assert.Equal(t, newEvalReasonError(EvalErrorFlagNotFound), e.Reason.Reason)
}
