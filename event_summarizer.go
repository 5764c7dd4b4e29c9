package ldclient

// Manages the state of summarizable information for the EventProcessor, including the
// event counters and user deduplication. Note that the methods of this type are
// deliberately not thread-safe, because they should always be called from EventProcessor's
// single event-processing goroutine.
type eventSummarizer struct {
	eventsState summaryEventsState
}

type summaryEventsState struct {
	counters  map[counterKey]*counterValue
	startDate uint64
	endDate   uint64
}

type counterKey struct {
	key       string
	variation int
	version   int
}

type counterValue struct {
	count       int
	flagValue   interface{}
	flagDefault interface{}
}

// Sentinel values used in place of a missing variation or version in a counter key.
const (
	nilVariation = -1
	nilVersion   = -1
)

func newEventSummarizer() *eventSummarizer {
	return &eventSummarizer{eventsState: newSummaryEventsState()}
}

func newSummaryEventsState() summaryEventsState {
	return summaryEventsState{
		counters: make(map[counterKey]*counterValue),
	}
}

// Adds this event to our counters, if it is a type of event we need to count.
func (s *eventSummarizer) summarizeEvent(evt Event) {
	var fe FeatureRequestEvent
	var ok bool
	if fe, ok = evt.(FeatureRequestEvent); !ok {
		return
	}

	key := counterKey{key: fe.Key, variation: nilVariation, version: nilVersion}
	if fe.Variation != nil {
		key.variation = *fe.Variation
	}
	if fe.Version != nil {
		key.version = *fe.Version
	}

	if value, ok := s.eventsState.counters[key]; ok {
		value.count++
	} else {
		s.eventsState.counters[key] = &counterValue{
			count:       1,
			flagValue:   fe.Value,
			flagDefault: fe.Default,
		}
	}

	creationDate := fe.CreationDate
	if s.eventsState.startDate == 0 || creationDate < s.eventsState.startDate {
		s.eventsState.startDate = creationDate
	}
	if creationDate > s.eventsState.endDate {
		s.eventsState.endDate = creationDate
	}
}

// Returns a snapshot of the current summarized event data, and resets this state.
func (s *eventSummarizer) snapshot() summaryEventsState {
	state := s.eventsState
	s.eventsState = newSummaryEventsState()
	return state
}
