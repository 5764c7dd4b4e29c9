package ldclient

// The JSON shapes in this file are what actually gets posted to the events service; they are
// not the same as the Event types, which are the client's internal representation.

type featureRequestEventOutput struct {
	Kind         string                     `json:"kind"`
	CreationDate uint64                     `json:"creationDate"`
	Key          string                     `json:"key"`
	User         *serializableUser          `json:"user,omitempty"`
	UserKey      *string                    `json:"userKey,omitempty"`
	Version      *int                       `json:"version,omitempty"`
	Variation    *int                       `json:"variation,omitempty"`
	Value        interface{}                `json:"value"`
	Default      interface{}                `json:"default"`
	PrereqOf     *string                    `json:"prereqOf,omitempty"`
	Reason       *EvaluationReasonContainer `json:"reason,omitempty"`
}

type identifyEventOutput struct {
	Kind         string            `json:"kind"`
	CreationDate uint64            `json:"creationDate"`
	Key          *string           `json:"key"`
	User         *serializableUser `json:"user"`
}

type customEventOutput struct {
	Kind         string            `json:"kind"`
	CreationDate uint64            `json:"creationDate"`
	Key          string            `json:"key"`
	User         *serializableUser `json:"user,omitempty"`
	UserKey      *string           `json:"userKey,omitempty"`
	Data         interface{}       `json:"data,omitempty"`
	MetricValue  *float64          `json:"metricValue,omitempty"`
}

type indexEventOutput struct {
	Kind         string            `json:"kind"`
	CreationDate uint64            `json:"creationDate"`
	User         *serializableUser `json:"user"`
}

type flagCounterData struct {
	Value     interface{} `json:"value"`
	Variation *int        `json:"variation,omitempty"`
	Version   *int        `json:"version,omitempty"`
	Count     int         `json:"count"`
	Unknown   *bool       `json:"unknown,omitempty"`
}

type flagSummaryData struct {
	Default  interface{}       `json:"default"`
	Counters []flagCounterData `json:"counters"`
}

type summaryEventOutput struct {
	Kind      string                     `json:"kind"`
	StartDate uint64                     `json:"startDate"`
	EndDate   uint64                     `json:"endDate"`
	Features  map[string]flagSummaryData `json:"features"`
}

const (
	featureKind  = "feature"
	debugKind    = "debug"
	identifyKind = "identify"
	customKind   = "custom"
	indexKind    = "index"
	summaryKind  = "summary"
)

type eventOutputFormatter struct {
	userFilter  userFilter
	inlineUsers bool
}

func (ef eventOutputFormatter) serializeUser(user User) *serializableUser {
	return &serializableUser{user: ef.userFilter.scrubUser(user), loggers: ef.userFilter.loggers}
}

// makeOutputEvents converts the queued events and the summary counters into the schema that
// the events service expects. The returned slice may be empty.
func (ef eventOutputFormatter) makeOutputEvents(events []Event, summary summaryEventsState) []interface{} {
	out := make([]interface{}, 0, len(events)+1)
	for _, e := range events {
		out = append(out, ef.makeOutputEvent(e))
	}
	if len(summary.counters) > 0 {
		out = append(out, ef.makeSummaryEvent(summary))
	}
	return out
}

func (ef eventOutputFormatter) makeOutputEvent(evt Event) interface{} {
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		fe := featureRequestEventOutput{
			Kind:         featureKind,
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Version:      evt.Version,
			Variation:    evt.Variation,
			Value:        evt.Value,
			Default:      evt.Default,
			PrereqOf:     evt.PrereqOf,
		}
		if evt.Debug {
			// Debug events always include the full user, regardless of inlineUsers
			fe.Kind = debugKind
			fe.User = ef.serializeUser(evt.User)
		} else if ef.inlineUsers {
			fe.User = ef.serializeUser(evt.User)
		} else {
			fe.UserKey = evt.User.Key
		}
		if evt.Reason.Reason != nil {
			fe.Reason = &evt.Reason
		}
		return fe
	case CustomEvent:
		ce := customEventOutput{
			Kind:         customKind,
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Data:         evt.Data,
			MetricValue:  evt.MetricValue,
		}
		if ef.inlineUsers {
			ce.User = ef.serializeUser(evt.User)
		} else {
			ce.UserKey = evt.User.Key
		}
		return ce
	case IdentifyEvent:
		return identifyEventOutput{
			Kind:         identifyKind,
			CreationDate: evt.CreationDate,
			Key:          evt.User.Key,
			User:         ef.serializeUser(evt.User),
		}
	case indexEvent:
		return indexEventOutput{
			Kind:         indexKind,
			CreationDate: evt.CreationDate,
			User:         ef.serializeUser(evt.User),
		}
	}
	return nil
}

// makeSummaryEvent transforms the summary counter data into the format used for the
// "summary" event kind, where counters are grouped by flag key.
func (ef eventOutputFormatter) makeSummaryEvent(snapshot summaryEventsState) summaryEventOutput {
	features := make(map[string]flagSummaryData)
	unknownTrue := true
	for key, value := range snapshot.counters {
		flagData, known := features[key.key]
		if !known {
			flagData = flagSummaryData{
				Default:  value.flagDefault,
				Counters: []flagCounterData{},
			}
		}
		data := flagCounterData{
			Value: value.flagValue,
			Count: value.count,
		}
		if key.variation != nilVariation {
			v := key.variation
			data.Variation = &v
		}
		if key.version == nilVersion {
			data.Unknown = &unknownTrue
		} else {
			v := key.version
			data.Version = &v
		}
		flagData.Counters = append(flagData.Counters, data)
		features[key.key] = flagData
	}
	return summaryEventOutput{
		Kind:      summaryKind,
		StartDate: snapshot.startDate,
		EndDate:   snapshot.endDate,
		Features:  features,
	}
}
