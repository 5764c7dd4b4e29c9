package ldclient

import (
	"encoding/json"
)

// FlagsStateOption is the type of optional parameters passed to AllFlagsState.
type FlagsStateOption interface {
	String() string
}

type clientSideOnlyFlagsStateOption struct{}

// ClientSideOnly - when passed to AllFlagsState - specifies that only flags marked for use
// with the client-side SDK should be included in the state object. By default, all flags
// are included.
var ClientSideOnly FlagsStateOption = clientSideOnlyFlagsStateOption{} //nolint:gochecknoglobals

func (o clientSideOnlyFlagsStateOption) String() string {
	return "ClientSideOnly"
}

type withReasonsFlagsStateOption struct{}

// WithReasons - when passed to AllFlagsState - specifies that evaluation reasons should be
// included in the state object. By default, they are not.
var WithReasons FlagsStateOption = withReasonsFlagsStateOption{} //nolint:gochecknoglobals

func (o withReasonsFlagsStateOption) String() string {
	return "WithReasons"
}

type detailsOnlyForTrackedFlagsOption struct{}

// DetailsOnlyForTrackedFlags - when passed to AllFlagsState - specifies that any metadata
// that is normally only used for event generation, such as flag versions and evaluation
// reasons, should be omitted for any flag that does not have event tracking or debugging
// turned on. This reduces the size of the JSON representation of the flag state.
var DetailsOnlyForTrackedFlags FlagsStateOption = detailsOnlyForTrackedFlagsOption{} //nolint:gochecknoglobals

func (o detailsOnlyForTrackedFlagsOption) String() string {
	return "DetailsOnlyForTrackedFlags"
}

func hasFlagsStateOption(options []FlagsStateOption, value FlagsStateOption) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// FeatureFlagsState is a snapshot of the state of all feature flags with regard to a
// specific user, generated by calling the client's AllFlagsState method. Serializing this
// object to JSON, using json.Marshal, produces the appropriate data structure for
// bootstrapping the LaunchDarkly JavaScript client.
type FeatureFlagsState struct {
	flagValues   map[string]interface{}
	flagMetadata map[string]flagMetadata
	valid        bool
}

type flagMetadata struct {
	Variation            *int             `json:"variation,omitempty"`
	Version              *int             `json:"version,omitempty"`
	Reason               EvaluationReason `json:"reason,omitempty"`
	TrackEvents          bool             `json:"trackEvents,omitempty"`
	DebugEventsUntilDate *uint64          `json:"debugEventsUntilDate,omitempty"`
}

func newFeatureFlagsState() FeatureFlagsState {
	return FeatureFlagsState{
		flagValues:   make(map[string]interface{}),
		flagMetadata: make(map[string]flagMetadata),
		valid:        true,
	}
}

func newInvalidFeatureFlagsState() FeatureFlagsState {
	return FeatureFlagsState{
		flagValues:   make(map[string]interface{}),
		flagMetadata: make(map[string]flagMetadata),
		valid:        false,
	}
}

// Adds the result of a flag evaluation to the state object.
func (s FeatureFlagsState) addFlag(flag *FeatureFlag, value interface{}, variation *int,
	reason EvaluationReason, detailsOnlyIfTracked bool) {
	requireDetails := !detailsOnlyIfTracked || flag.TrackEvents ||
		(flag.DebugEventsUntilDate != nil && *flag.DebugEventsUntilDate > now())
	meta := flagMetadata{
		Variation:            variation,
		TrackEvents:          flag.TrackEvents,
		DebugEventsUntilDate: flag.DebugEventsUntilDate,
	}
	if requireDetails {
		v := flag.Version
		meta.Version = &v
		meta.Reason = reason
	}
	s.flagValues[flag.Key] = value
	s.flagMetadata[flag.Key] = meta
}

// IsValid returns true if this object contains a valid snapshot of feature flag state, or
// false if the state could not be computed (for instance, because the client was offline or
// has not been initialized).
func (s FeatureFlagsState) IsValid() bool {
	return s.valid
}

// GetFlagValue returns the value of an individual feature flag at the time the state was
// recorded. The return value will be nil if the flag returned the default value, or if
// there was no such flag.
func (s FeatureFlagsState) GetFlagValue(key string) interface{} {
	return s.flagValues[key]
}

// GetFlagReason returns the evaluation reason for an individual feature flag at the time
// the state was recorded. It will be nil if reasons were not recorded, or if there was no
// such flag.
func (s FeatureFlagsState) GetFlagReason(key string) EvaluationReason {
	if meta, ok := s.flagMetadata[key]; ok {
		return meta.Reason
	}
	return nil
}

// ToValuesMap returns a map of flag keys to flag values. If a flag would have evaluated to
// the default value, its value will be nil.
//
// Do not use this method if you are passing data to the front end to "bootstrap" the
// JavaScript client. Instead, convert the state object to JSON using json.Marshal.
func (s FeatureFlagsState) ToValuesMap() map[string]interface{} {
	return s.flagValues
}

// MarshalJSON implements a custom JSON serialization for FeatureFlagsState, to produce the
// correct data structure for "bootstrapping" the LaunchDarkly JavaScript client.
func (s FeatureFlagsState) MarshalJSON() ([]byte, error) {
	allData := make(map[string]interface{}, len(s.flagValues)+2)
	for k, v := range s.flagValues {
		allData[k] = v
	}
	allData["$flagsState"] = s.flagMetadata
	allData["$valid"] = s.valid
	return json.Marshal(allData)
}
