package ldclient

import (
	"time"
)

// An Event represents an analytics event generated by the client, which will be passed to
// the EventProcessor. The event data that the EventProcessor actually sends to LaunchDarkly
// may be slightly different.
type Event interface {
	GetBase() BaseEvent
}

// BaseEvent provides properties common to all events.
type BaseEvent struct {
	CreationDate uint64
	User         User
}

// FeatureRequestEvent is generated by evaluating a feature flag or one of a flag's
// prerequisites.
type FeatureRequestEvent struct {
	BaseEvent
	Key       string
	Variation *int
	Value     interface{}
	Default   interface{}
	Version   *int
	PrereqOf  *string
	Reason    EvaluationReasonContainer
	// TrackEvents is true if a full event should be sent for every evaluation, rather than
	// only a summary count. This is turned on by the flag's TrackEvents property, a matched
	// rule's TrackEvents property, the TrackEventsFallthrough property, or membership in a
	// tracked experiment bucket.
	TrackEvents bool
	// Debug is set by the event processor when this event is a debug copy.
	Debug                bool
	DebugEventsUntilDate *uint64
}

// CustomEvent is generated by calling the client's Track methods.
type CustomEvent struct {
	BaseEvent
	Key         string
	Data        interface{}
	MetricValue *float64
}

// IdentifyEvent is generated by calling the client's Identify method.
type IdentifyEvent struct {
	BaseEvent
}

// indexEvent is generated internally to capture user details from other events. It is an
// implementation detail of the event processor, so it is not exported.
type indexEvent struct {
	BaseEvent
}

// isExperimentationEnabled returns true if, based on the evaluation reason, the event for
// this evaluation must carry full tracking data regardless of the flag's TrackEvents setting.
func (f *FeatureFlag) isExperimentationEnabled(reason EvaluationReason) bool {
	switch r := reason.(type) {
	case EvaluationReasonFallthrough:
		return r.InExperiment || f.TrackEventsFallthrough
	case EvaluationReasonRuleMatch:
		if r.InExperiment {
			return true
		}
		if r.RuleIndex >= 0 && r.RuleIndex < len(f.Rules) {
			return f.Rules[r.RuleIndex].TrackEvents
		}
	}
	return false
}

func newSuccessfulEvalEvent(flag *FeatureFlag, user User, variation *int, value, defaultVal interface{},
	reason EvaluationReason, includeReasons bool, prereqOf *string) FeatureRequestEvent {
	requireExperimentData := flag.isExperimentationEnabled(reason)
	fre := FeatureRequestEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:                  flag.Key,
		Version:              &flag.Version,
		Variation:            variation,
		Value:                value,
		Default:              defaultVal,
		PrereqOf:             prereqOf,
		TrackEvents:          requireExperimentData || flag.TrackEvents,
		DebugEventsUntilDate: flag.DebugEventsUntilDate,
	}
	if requireExperimentData || includeReasons {
		fre.Reason.Reason = reason
	}
	return fre
}

func newUnknownFlagEvent(key string, user User, defaultVal interface{}, reason EvaluationReason,
	includeReasons bool) FeatureRequestEvent {
	fre := FeatureRequestEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:     key,
		Value:   defaultVal,
		Default: defaultVal,
	}
	if includeReasons {
		fre.Reason.Reason = reason
	}
	return fre
}

// GetBase returns the BaseEvent
func (evt FeatureRequestEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewCustomEvent constructs a new custom event, but does not send it. Typically, Track should
// be used to both create the event and send it to LaunchDarkly.
func NewCustomEvent(key string, user User, data interface{}) CustomEvent {
	return CustomEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:  key,
		Data: data,
	}
}

// GetBase returns the BaseEvent
func (evt CustomEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewIdentifyEvent constructs a new identify event, but does not send it. Typically, Identify
// should be used to both create the event and send it to LaunchDarkly.
func NewIdentifyEvent(user User) IdentifyEvent {
	return IdentifyEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
	}
}

// GetBase returns the BaseEvent
func (evt IdentifyEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// GetBase returns the BaseEvent
func (evt indexEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

func now() uint64 {
	return toUnixMillis(time.Now())
}

func toUnixMillis(t time.Time) uint64 {
	ms := time.Duration(t.UnixNano()) / time.Millisecond

	return uint64(ms)
}
