package ldclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	es "github.com/launchdarkly/eventsource"

	"github.com/gor-st/go-server-sdk/ldlog"
)

const (
	putEvent    = "put"
	patchEvent  = "patch"
	deleteEvent = "delete"

	// The stream should send a heartbeat comment at regular intervals; if we go this long
	// without receiving anything, restart the connection.
	streamReadTimeout = 5 * time.Minute

	streamMaxRetryDelay      = 30 * time.Second
	streamRetryResetInterval = 60 * time.Second
	streamJitterRatio        = 0.5
)

type streamProcessor struct {
	store                      FeatureStore
	client                     *http.Client
	config                     Config
	sdkKey                     string
	setInitializedOnce         sync.Once
	stateLock                  sync.Mutex
	isInitialized              bool
	halt                       chan struct{}
	connectionAttemptStartTime uint64
	diagnosticsManager         *diagnosticsManager
	closeOnce                  sync.Once
}

type putData struct {
	Path string  `json:"path"`
	Data allData `json:"data"`
}

type allData struct {
	Flags    map[string]*FeatureFlag `json:"flags"`
	Segments map[string]*Segment     `json:"segments"`
}

type patchData struct {
	Path string `json:"path"`
	// This could be a flag or a segment, so we leave the decoding until we know the path.
	Data json.RawMessage `json:"data"`
}

type deleteData struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

func newStreamProcessor(sdkKey string, config Config, client *http.Client,
	diagnosticsManager *diagnosticsManager) *streamProcessor {
	if client == nil {
		client = &http.Client{
			// Client.Timeout is not set here because it would include the duration of the
			// entire stream; the read timeout is enforced by the eventsource library.
		}
	}
	return &streamProcessor{
		store:              config.FeatureStore,
		client:             client,
		config:             config,
		sdkKey:             sdkKey,
		halt:               make(chan struct{}),
		diagnosticsManager: diagnosticsManager,
	}
}

func (sp *streamProcessor) Initialized() bool {
	sp.stateLock.Lock()
	defer sp.stateLock.Unlock()
	return sp.isInitialized
}

func (sp *streamProcessor) Start(closeWhenReady chan<- struct{}) {
	sp.config.Loggers.Info("Starting LaunchDarkly streaming connection")
	go sp.subscribe(closeWhenReady)
}

func (sp *streamProcessor) subscribe(closeWhenReady chan<- struct{}) {
	req, _ := http.NewRequest("GET", sp.config.StreamUri+"/all", nil)
	req.Header.Add("Authorization", sp.sdkKey)
	req.Header.Add("User-Agent", sp.config.UserAgent)
	sp.config.Loggers.Info("Connecting to LaunchDarkly stream")

	sp.logConnectionStarted()

	initialRetryDelay := sp.config.StreamInitialReconnectDelay
	if initialRetryDelay <= 0 {
		initialRetryDelay = DefaultConfig.StreamInitialReconnectDelay
	}

	errorHandler := func(err error) es.StreamErrorHandlerResult {
		sp.logConnectionResult(false)

		if se, ok := err.(es.SubscriptionError); ok {
			if !isHTTPErrorRecoverable(se.Code) {
				sp.config.Loggers.Error(httpErrorMessage(se.Code, "streaming connection", "giving up permanently"))
				sp.notifyReady(closeWhenReady) // if the client is waiting on us, it can stop waiting now
				return es.StreamErrorHandlerResult{CloseNow: true}
			}
			sp.config.Loggers.Warn(httpErrorMessage(se.Code, "streaming connection", "will retry"))
		} else {
			sp.config.Loggers.Warnf("Unexpected error on stream connection: %+v (will retry)", err)
		}

		sp.logConnectionStarted()
		return es.StreamErrorHandlerResult{CloseNow: false}
	}

	stream, err := es.SubscribeWithRequestAndOptions(req,
		es.StreamOptionHTTPClient(sp.client),
		es.StreamOptionReadTimeout(streamReadTimeout),
		es.StreamOptionInitialRetry(initialRetryDelay),
		es.StreamOptionUseBackoff(streamMaxRetryDelay),
		es.StreamOptionUseJitter(streamJitterRatio),
		es.StreamOptionRetryResetInterval(streamRetryResetInterval),
		es.StreamOptionErrorHandler(errorHandler),
		es.StreamOptionCanRetryFirstConnection(-1),
		es.StreamOptionLogger(sp.config.Loggers.ForLevel(ldlog.Info)),
	)
	if err != nil {
		sp.logConnectionResult(false)
		sp.notifyReady(closeWhenReady)
		return
	}

	go sp.consumeStream(stream, closeWhenReady)
}

func (sp *streamProcessor) consumeStream(stream *es.Stream, closeWhenReady chan<- struct{}) {
	defer stream.Close()
	for {
		select {
		case event, ok := <-stream.Events:
			if !ok {
				sp.config.Loggers.Info("Event stream closed")
				return
			}
			sp.logConnectionResult(true)

			if !sp.processStreamEvent(event) {
				continue
			}
			sp.setInitializedOnce.Do(func() {
				sp.config.Loggers.Info("LaunchDarkly streaming is active")
				sp.stateLock.Lock()
				sp.isInitialized = true
				sp.stateLock.Unlock()
				close(closeWhenReady)
			})
		case <-sp.halt:
			return
		}
	}
}

// processStreamEvent applies one stream event to the feature store. The return value is true
// if the data source should now be considered initialized.
func (sp *streamProcessor) processStreamEvent(event es.Event) bool {
	switch event.Event() {
	case putEvent:
		var put putData
		if err := json.Unmarshal([]byte(event.Data()), &put); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PUT json: %+v", err)
			return false
		}
		err := sp.store.Init(MakeAllVersionedDataMap(put.Data.Flags, put.Data.Segments))
		if err != nil {
			sp.config.Loggers.Errorf("Error initializing store: %s", err)
			return false
		}
		return true
	case patchEvent:
		var patch patchData
		if err := json.Unmarshal([]byte(event.Data()), &patch); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PATCH json: %+v", err)
			return false
		}
		kind, key, err := parsePath(patch.Path)
		if err != nil {
			sp.config.Loggers.Errorf("Unable to process event %s: %s", event.Event(), err)
			return false
		}
		item := kind.GetDefaultItem()
		if err = json.Unmarshal(patch.Data, item); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling JSON for %s item %q: %+v", kind, key, err)
			return false
		}
		if err = sp.store.Upsert(kind, item.(VersionedData)); err != nil {
			sp.config.Loggers.Errorf(`Error updating %s item %q in store: %s`, kind, key, err)
		}
	case deleteEvent:
		var data deleteData
		if err := json.Unmarshal([]byte(event.Data()), &data); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling DELETE json: %+v", err)
			return false
		}
		kind, key, err := parsePath(data.Path)
		if err != nil {
			sp.config.Loggers.Errorf("Unable to process event %s: %s", event.Event(), err)
			return false
		}
		if err = sp.store.Delete(kind, key, data.Version); err != nil {
			sp.config.Loggers.Errorf(`Error deleting %s item %q in store: %s`, kind, key, err)
		}
	default:
		sp.config.Loggers.Infof("Unexpected event found in stream: %s", event.Event())
	}
	return false
}

func (sp *streamProcessor) notifyReady(closeWhenReady chan<- struct{}) {
	sp.setInitializedOnce.Do(func() {
		close(closeWhenReady)
	})
}

func (sp *streamProcessor) logConnectionStarted() {
	sp.connectionAttemptStartTime = now()
}

func (sp *streamProcessor) logConnectionResult(success bool) {
	if sp.connectionAttemptStartTime > 0 && sp.diagnosticsManager != nil {
		timestamp := now()
		sp.diagnosticsManager.RecordStreamInit(timestamp, !success,
			milliseconds(timestamp-sp.connectionAttemptStartTime))
	}
	sp.connectionAttemptStartTime = 0
}

// Close instructs the processor to stop receiving updates.
func (sp *streamProcessor) Close() error {
	sp.closeOnce.Do(func() {
		sp.config.Loggers.Info("Closing event stream")
		close(sp.halt)
	})
	return nil
}

func parsePath(path string) (VersionedDataKind, string, error) {
	switch {
	case strings.HasPrefix(path, "/segments/"):
		return Segments, strings.TrimPrefix(path, "/segments/"), nil
	case strings.HasPrefix(path, "/flags/"):
		return Features, strings.TrimPrefix(path, "/flags/"), nil
	default:
		return nil, "", fmt.Errorf("unrecognized path %s", path)
	}
}
