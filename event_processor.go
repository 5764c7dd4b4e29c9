package ldclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gor-st/go-server-sdk/ldlog"
)

// EventProcessor defines the interface for dispatching analytics events.
type EventProcessor interface {
	// SendEvent records an event asynchronously.
	SendEvent(Event)
	// Flush specifies that any buffered events should be sent as soon as possible, rather
	// than waiting for the next flush interval. This method is asynchronous.
	Flush()
	// Close shuts down all event processor activity, after first delivering all pending
	// events. It is not possible to post any new events after calling this.
	Close() error
}

type nullEventProcessor struct{}

type defaultEventProcessor struct {
	inboxCh   chan eventDispatcherMessage
	inboxFull bool
	closeOnce sync.Once
	loggers   ldlog.Loggers
	lock      sync.Mutex
}

type eventDispatcher struct {
	sdkKey             string
	config             Config
	diagnosticsManager *diagnosticsManager
	lastKnownPastTime  uint64
	deduplicatedUsers  int
	eventsInLastBatch  int
	disabled           bool
	stateLock          sync.Mutex
}

// eventBuffer is the outbox: analytics events waiting for the next flush, plus the summary
// counters. It belongs to the dispatcher goroutine and needs no locking.
type eventBuffer struct {
	events           []Event
	summarizer       *eventSummarizer
	capacity         int
	capacityExceeded bool
	droppedEvents    int
	loggers          ldlog.Loggers
}

type flushPayload struct {
	diagnosticEvent interface{}
	events          []Event
	summary         summaryEventsState
}

type sendEventsTask struct {
	client        *http.Client
	eventsURI     string
	diagnosticURI string
	loggers       ldlog.Loggers
	sdkKey        string
	userAgent     string
	formatter     eventOutputFormatter
}

// Payload of the inbox channel.
type eventDispatcherMessage interface{}

type sendEventMessage struct {
	event Event
}

type flushEventsMessage struct{}

type shutdownEventsMessage struct {
	replyCh chan struct{}
}

type syncEventsMessage struct {
	replyCh chan struct{}
}

const (
	maxFlushWorkers          = 5
	eventSchemaHeader        = "X-LaunchDarkly-Event-Schema"
	payloadIDHeader          = "X-LaunchDarkly-Payload-ID"
	currentEventSchema       = "3"
	defaultEventsEndpoint    = "/bulk"
	diagnosticEventsEndpoint = "/diagnostic"
)

func newNullEventProcessor() *nullEventProcessor {
	return &nullEventProcessor{}
}

func (n *nullEventProcessor) SendEvent(e Event) {}

func (n *nullEventProcessor) Flush() {}

func (n *nullEventProcessor) Close() error {
	return nil
}

// NewDefaultEventProcessor creates an instance of the default implementation of analytics
// event processing. This is normally only used internally; it is public because the
// ld-relay uses it as a plugin.
func NewDefaultEventProcessor(sdkKey string, config Config, client *http.Client) EventProcessor {
	return newDefaultEventProcessorInternal(sdkKey, config, client, nil)
}

func newDefaultEventProcessorInternal(sdkKey string, config Config, client *http.Client,
	diagnosticsManager *diagnosticsManager) EventProcessor {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	inboxCh := make(chan eventDispatcherMessage, config.Capacity)
	startEventDispatcher(sdkKey, config, client, inboxCh, diagnosticsManager)
	return &defaultEventProcessor{
		inboxCh: inboxCh,
		loggers: config.Loggers,
	}
}

func (ep *defaultEventProcessor) SendEvent(e Event) {
	ep.postToInbox(sendEventMessage{event: e})
}

func (ep *defaultEventProcessor) Flush() {
	ep.postToInbox(flushEventsMessage{})
}

func (ep *defaultEventProcessor) postToInbox(message eventDispatcherMessage) {
	select {
	case ep.inboxCh <- message:
		ep.lock.Lock()
		ep.inboxFull = false
		ep.lock.Unlock()
	default:
		// If the inbox is full, it means the dispatcher is seriously backed up with not-yet-
		// processed events. This is fairly unlikely but if it happens, it means the application
		// is probably doing a ton of flag evaluations across many goroutines. We log when this
		// starts happening, but not for every single dropped message since that could be
		// extremely spammy.
		ep.lock.Lock()
		wasFull := ep.inboxFull
		ep.inboxFull = true
		ep.lock.Unlock()
		if !wasFull {
			ep.loggers.Warn("Events are being produced faster than they can be processed; some events will be dropped")
		}
	}
}

func (ep *defaultEventProcessor) Close() error {
	ep.closeOnce.Do(func() {
		// We put the flush and shutdown messages directly into the channel instead of calling
		// postToInbox, because we *do* want to block to make sure they are received.
		ep.inboxCh <- flushEventsMessage{}
		m := shutdownEventsMessage{replyCh: make(chan struct{})}
		ep.inboxCh <- m
		<-m.replyCh
	})
	return nil
}

func startEventDispatcher(sdkKey string, config Config, client *http.Client,
	inboxCh <-chan eventDispatcherMessage, diagnosticsManager *diagnosticsManager) {
	ed := &eventDispatcher{
		sdkKey:             sdkKey,
		config:             config,
		diagnosticsManager: diagnosticsManager,
	}

	// Start a fixed-size pool of workers that wait on flushTriggerCh. This is the
	// maximum number of flushes we can do concurrently.
	flushCh := make(chan *flushPayload, 1)
	var workersGroup sync.WaitGroup
	for i := 0; i < maxFlushWorkers; i++ {
		startFlushTask(sdkKey, config, client, flushCh, &workersGroup,
			func(r *http.Response) { ed.handleResponse(r) })
	}
	if diagnosticsManager != nil {
		event := diagnosticsManager.CreateInitEvent()
		ed.sendDiagnosticsEvent(event, flushCh, &workersGroup)
	}
	go ed.runMainLoop(inboxCh, flushCh, &workersGroup)
}

func (ed *eventDispatcher) runMainLoop(inboxCh <-chan eventDispatcherMessage,
	flushCh chan<- *flushPayload, workersGroup *sync.WaitGroup) {
	defer func() {
		if err := recover(); err != nil {
			ed.config.Loggers.Errorf("Unexpected panic in event processing thread: %+v", err)
		}
	}()

	outbox := eventBuffer{
		events:     make([]Event, 0, ed.config.Capacity),
		summarizer: newEventSummarizer(),
		capacity:   ed.config.Capacity,
		loggers:    ed.config.Loggers,
	}
	userKeys := newLruCache(ed.config.UserKeysCapacity)

	flushInterval := ed.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultConfig.FlushInterval
	}
	userKeysFlushInterval := ed.config.UserKeysFlushInterval
	if userKeysFlushInterval <= 0 {
		userKeysFlushInterval = DefaultConfig.UserKeysFlushInterval
	}
	flushTicker := time.NewTicker(flushInterval)
	usersResetTicker := time.NewTicker(userKeysFlushInterval)

	var diagnosticsTicker *time.Ticker
	var diagnosticsTickerCh <-chan time.Time
	if ed.diagnosticsManager != nil {
		interval := ed.config.DiagnosticRecordingInterval
		if interval < minimumDiagnosticRecordingInterval {
			interval = minimumDiagnosticRecordingInterval
		}
		diagnosticsTicker = time.NewTicker(interval)
		diagnosticsTickerCh = diagnosticsTicker.C
	}

	for {
		// Drain the response channel with a higher priority than anything else to ensure that
		// the flush workers are never blocked.
		select {
		case message := <-inboxCh:
			switch m := message.(type) {
			case sendEventMessage:
				ed.processEvent(m.event, &outbox, &userKeys)
			case flushEventsMessage:
				ed.triggerFlush(&outbox, flushCh, workersGroup)
			case syncEventsMessage:
				workersGroup.Wait()
				m.replyCh <- struct{}{}
			case shutdownEventsMessage:
				flushTicker.Stop()
				usersResetTicker.Stop()
				if diagnosticsTicker != nil {
					diagnosticsTicker.Stop()
				}
				workersGroup.Wait() // Wait for all in-progress flushes to complete
				close(flushCh)      // Causes all idle flush workers to terminate
				m.replyCh <- struct{}{}
				return
			}
		case <-flushTicker.C:
			ed.triggerFlush(&outbox, flushCh, workersGroup)
		case <-usersResetTicker.C:
			userKeys.clear()
		case <-diagnosticsTickerCh:
			if ed.diagnosticsManager == nil || !ed.diagnosticsManager.CanSendStatsEvent() {
				break
			}
			event := ed.diagnosticsManager.CreateStatsEventAndReset(
				outbox.droppedEvents,
				ed.deduplicatedUsers,
				ed.eventsInLastBatch,
			)
			outbox.droppedEvents = 0
			ed.deduplicatedUsers = 0
			ed.eventsInLastBatch = 0
			ed.sendDiagnosticsEvent(event, flushCh, workersGroup)
		}
	}
}

func (ed *eventDispatcher) processEvent(evt Event, outbox *eventBuffer, userKeys *lruCache) {
	// Always record the event in the summarizer.
	outbox.addToSummary(evt)

	// Decide whether to add the event to the payload. Feature events may be added twice, once
	// for the event (if tracked) and once for debugging.
	willAddFullEvent := false
	var debugEvent Event
	inlinedUser := ed.config.InlineUsersInEvents
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		willAddFullEvent = evt.TrackEvents
		if ed.shouldDebugEvent(&evt) {
			de := evt
			de.Debug = true
			debugEvent = de
		}
	case IdentifyEvent:
		inlinedUser = true
	}

	// For each user we haven't seen before, we add an index event before the event that
	// referenced the user - unless the original event will contain an inline user.
	user := evt.GetBase().User
	alreadySeenUser := ed.noticeUser(userKeys, &user)
	if !(willAddFullEvent && inlinedUser) {
		if alreadySeenUser {
			ed.deduplicatedUsers++
		} else {
			indexEvent := indexEvent{
				BaseEvent{CreationDate: evt.GetBase().CreationDate, User: user},
			}
			outbox.addEvent(indexEvent)
		}
	}
	if willAddFullEvent {
		outbox.addEvent(evt)
	}
	if debugEvent != nil {
		outbox.addEvent(debugEvent)
	}
}

// Add to the set of users we've noticed, and return true if the user was already known to us.
func (ed *eventDispatcher) noticeUser(userKeys *lruCache, user *User) bool {
	if user == nil || user.Key == nil {
		return true
	}
	return userKeys.add(*user.Key)
}

func (ed *eventDispatcher) shouldDebugEvent(evt *FeatureRequestEvent) bool {
	if evt.DebugEventsUntilDate == nil {
		return false
	}
	// The "last known past time" comes from the last HTTP response we got from the server.
	// In case the client's time is set wrong, at least we know that any expiration date
	// earlier than that point is definitely in the past. If there's any discrepancy, we
	// want to err on the side of cutting off event debugging sooner.
	ed.stateLock.Lock() // This should be done infrequently since it's only used for debug events
	defer ed.stateLock.Unlock()
	return *evt.DebugEventsUntilDate > ed.lastKnownPastTime &&
		*evt.DebugEventsUntilDate > now()
}

// Signal that we would like to do a flush as soon as possible.
func (ed *eventDispatcher) triggerFlush(outbox *eventBuffer, flushCh chan<- *flushPayload,
	workersGroup *sync.WaitGroup) {
	if ed.isDisabled() {
		outbox.clear()
		return
	}
	// Is there anything to flush?
	payload := outbox.getPayload()
	totalEventCount := len(payload.events)
	if len(payload.summary.counters) > 0 {
		totalEventCount++
	}
	if totalEventCount == 0 {
		ed.eventsInLastBatch = 0
		return
	}
	workersGroup.Add(1) // Increment the count of active flushes
	select {
	case flushCh <- &payload:
		// If the channel wasn't full, then there is a worker available who will pick up this
		// flush payload and send it. The event outbox and summary state can now be cleared
		// from the main goroutine.
		ed.eventsInLastBatch = totalEventCount
		outbox.clear()
	default:
		// We can't start a flush right now because we're waiting for one of the workers to pick
		// up the last one. Do not reset the event outbox or summary state.
		workersGroup.Done()
	}
}

func (ed *eventDispatcher) isDisabled() bool {
	// Since we're using a mutex, we should avoid calling this often.
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	return ed.disabled
}

func (ed *eventDispatcher) handleResponse(resp *http.Response) {
	if err := checkForHttpError(resp.StatusCode, resp.Request.URL.String()); err != nil {
		ed.config.Loggers.Error(httpErrorMessage(resp.StatusCode, "posting events", "some events were dropped"))
		if !isHTTPErrorRecoverable(resp.StatusCode) {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.disabled = true
		}
	} else {
		dt, err := http.ParseTime(resp.Header.Get("Date"))
		if err == nil {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.lastKnownPastTime = toUnixMillis(dt)
		}
	}
}

func (ed *eventDispatcher) sendDiagnosticsEvent(event interface{},
	flushCh chan<- *flushPayload, workersGroup *sync.WaitGroup) {
	payload := flushPayload{diagnosticEvent: event}
	workersGroup.Add(1) // Increment the count of active flushes
	select {
	case flushCh <- &payload:
		// If the channel wasn't full, then there is a worker available who will pick up this
		// flush payload and send it.
	default:
		// We can't start a flush right now because we're waiting for one of the workers to pick
		// up the last one. We'll just discard this diagnostic event - presumably we'll send
		// another one later anyway, and we don't want this kind of nonessential data to cause
		// any kind of back-pressure.
		workersGroup.Done()
	}
}

func (b *eventBuffer) addEvent(event Event) {
	if len(b.events) >= b.capacity {
		if !b.capacityExceeded {
			b.capacityExceeded = true
			b.loggers.Warn("Exceeded event queue capacity. Increase capacity to avoid dropping events.")
		}
		b.droppedEvents++
		return
	}
	b.capacityExceeded = false
	b.events = append(b.events, event)
}

func (b *eventBuffer) addToSummary(event Event) {
	b.summarizer.summarizeEvent(event)
}

func (b *eventBuffer) getPayload() flushPayload {
	return flushPayload{
		events:  b.events,
		summary: b.summarizer.snapshot(),
	}
}

func (b *eventBuffer) clear() {
	b.events = make([]Event, 0, b.capacity)
	b.summarizer = newEventSummarizer()
}

func startFlushTask(sdkKey string, config Config, client *http.Client,
	flushCh <-chan *flushPayload, workersGroup *sync.WaitGroup,
	responseFn func(*http.Response)) {
	uri := config.EventsEndpointUri
	if uri == "" {
		uri = config.EventsUri + defaultEventsEndpoint
	}
	t := sendEventsTask{
		client:        client,
		eventsURI:     uri,
		diagnosticURI: config.EventsUri + diagnosticEventsEndpoint,
		loggers:       config.Loggers,
		sdkKey:        sdkKey,
		userAgent:     config.UserAgent,
		formatter: eventOutputFormatter{
			userFilter:  newUserFilter(config),
			inlineUsers: config.InlineUsersInEvents,
		},
	}
	go t.run(flushCh, responseFn, workersGroup)
}

func (t *sendEventsTask) run(flushCh <-chan *flushPayload, responseFn func(*http.Response),
	workersGroup *sync.WaitGroup) {
	for {
		payload, more := <-flushCh
		if !more {
			// Channel has been closed - we're shutting down
			break
		}
		if payload.diagnosticEvent != nil {
			t.postJSON(payload.diagnosticEvent, t.diagnosticURI, "diagnostic event", false, responseFn)
		} else {
			outputEvents := t.formatter.makeOutputEvents(payload.events, payload.summary)
			if len(outputEvents) > 0 {
				t.postJSON(outputEvents, t.eventsURI, fmt.Sprintf("%d events", len(outputEvents)),
					true, responseFn)
			}
		}
		workersGroup.Done() // Decrement the count of in-progress flushes
	}
}

func (t *sendEventsTask) postJSON(body interface{}, uri, description string,
	includePayloadID bool, responseFn func(*http.Response)) {
	jsonPayload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		t.loggers.Errorf("Unexpected error marshalling event json: %+v", marshalErr)
		return
	}

	// The payload ID is the same for both the initial attempt and the retry, so the service
	// can deduplicate if both are received.
	payloadUUID, _ := uuid.NewRandom()
	payloadID := payloadUUID.String()

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			t.loggers.Warnf("Will retry posting %s after 1 second", description)
			time.Sleep(1 * time.Second)
		}

		req, reqErr := http.NewRequest("POST", uri, bytes.NewReader(jsonPayload))
		if reqErr != nil {
			t.loggers.Errorf("Unexpected error while creating event request: %+v", reqErr)
			return
		}

		req.Header.Add("Authorization", t.sdkKey)
		req.Header.Add("Content-Type", "application/json")
		req.Header.Add("User-Agent", t.userAgent)
		req.Header.Add(eventSchemaHeader, currentEventSchema)
		if includePayloadID {
			req.Header.Add(payloadIDHeader, payloadID)
		}

		resp, respErr := t.client.Do(req)
		if respErr != nil {
			t.loggers.Warnf("Unexpected error while sending %s: %+v", description, respErr)
			continue
		}
		_ = resp.Body.Close()
		responseFn(resp)
		if isHTTPErrorRecoverable(resp.StatusCode) && resp.StatusCode >= 400 {
			continue
		}
		return
	}
}
