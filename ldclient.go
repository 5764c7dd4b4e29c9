// Package ldclient is the main package for the LaunchDarkly SDK.
//
// This package contains the types and methods for the SDK client (LDClient) and its
// supporting components, including the flag evaluation engine, the analytics event
// pipeline, and the streaming and polling data sources.
package ldclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/gor-st/go-server-sdk/ldlog"
)

// Version is the SDK version.
const Version = "1.0.0"

// LDClient is the LaunchDarkly client. Client instances are thread-safe. Applications
// should instantiate a single instance for the lifetime of their application.
type LDClient struct {
	sdkKey          string
	config          Config
	eventProcessor  EventProcessor
	updateProcessor UpdateProcessor
	store           FeatureStore
	bigSegments     *bigSegmentStoreManager
}

// Initialization errors
var (
	// ErrInitializationTimeout is returned by MakeCustomClient if the client's initialization
	// did not complete within the specified time.
	ErrInitializationTimeout = errors.New("timeout encountered waiting for LaunchDarkly client initialization")
	// ErrInitializationFailed is returned by MakeCustomClient if the client's initialization
	// failed permanently, e.g. due to an invalid SDK key.
	ErrInitializationFailed = errors.New("LaunchDarkly client initialization failed")
	// ErrClientNotInitialized is returned by evaluation methods if they are called before the
	// client has finished initializing and there is no last known flag data.
	ErrClientNotInitialized = errors.New("feature flag evaluation called before LaunchDarkly client initialization completed")
)

// MakeClient creates a new client instance that connects to LaunchDarkly with the default
// configuration. The client will begin attempting to connect to LaunchDarkly as soon as it
// is created; if waitFor is greater than zero, the constructor will block for up to that
// duration waiting for the connection to succeed and a complete flag data set to be stored.
//
// The only time it is useful to set waitFor to zero is if you want the client to return
// immediately and evaluate flags against possibly stale data.
func MakeClient(sdkKey string, waitFor time.Duration) (*LDClient, error) {
	return MakeCustomClient(sdkKey, DefaultConfig, waitFor)
}

// MakeCustomClient creates a new client instance that connects to LaunchDarkly with a
// custom configuration. See MakeClient for the meaning of waitFor.
func MakeCustomClient(sdkKey string, config Config, waitFor time.Duration) (*LDClient, error) {
	closeWhenReady := make(chan struct{})

	if config.PollInterval < MinimumPollInterval {
		config.PollInterval = MinimumPollInterval
	}
	if config.UserAgent == "" {
		config.UserAgent = "GoClient/" + Version
	}
	if config.Logger != nil {
		// The deprecated single-logger option applies to all levels of the leveled logger.
		config.Loggers.SetBaseLogger(config.Logger)
	}

	store, err := createFeatureStore(config)
	if err != nil {
		return nil, err
	}
	config.FeatureStore = store

	client := LDClient{
		sdkKey: sdkKey,
		config: config,
		store:  store,
	}

	if config.BigSegments != nil && config.BigSegments.Store != nil {
		client.bigSegments = newBigSegmentStoreManager(*config.BigSegments, config.Loggers)
	}

	if config.Offline {
		config.Loggers.Info("Started LaunchDarkly in offline mode")
		client.eventProcessor = newNullEventProcessor()
		client.updateProcessor = newNullUpdateProcessor()
		return &client, nil
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	var diagnosticsManager *diagnosticsManager
	if config.SendEvents && !config.DiagnosticOptOut {
		id := newDiagnosticId(sdkKey)
		diagnosticsManager = newDiagnosticsManager(id, config, waitFor, time.Now(),
			config.diagnosticRecordingGate)
	}

	if config.SendEvents {
		client.eventProcessor = newDefaultEventProcessorInternal(sdkKey, config, httpClient,
			diagnosticsManager)
	} else {
		client.eventProcessor = newNullEventProcessor()
	}

	if config.UpdateProcessor != nil {
		client.updateProcessor = config.UpdateProcessor
	} else if config.UpdateProcessorFactory != nil {
		client.updateProcessor, err = config.UpdateProcessorFactory(sdkKey, config)
		if err != nil {
			return nil, err
		}
	} else {
		client.updateProcessor = createDefaultUpdateProcessor(sdkKey, config, httpClient,
			diagnosticsManager)
	}
	client.updateProcessor.Start(closeWhenReady)

	if waitFor > 0 && !config.UseLdd {
		config.Loggers.Infof("Waiting up to %d milliseconds for LaunchDarkly client to start...",
			waitFor/time.Millisecond)
		timeout := time.After(waitFor)
		for {
			select {
			case <-closeWhenReady:
				if !client.updateProcessor.Initialized() {
					config.Loggers.Warn("LaunchDarkly client initialization failed")
					return &client, ErrInitializationFailed
				}
				config.Loggers.Info("Successfully initialized LaunchDarkly client!")
				return &client, nil
			case <-timeout:
				config.Loggers.Warn("Timeout encountered waiting for LaunchDarkly client initialization")
				go func() { <-closeWhenReady }() // Don't block the update processor's notification
				return &client, ErrInitializationTimeout
			}
		}
	}
	go func() { <-closeWhenReady }()
	return &client, nil
}

func createFeatureStore(config Config) (FeatureStore, error) {
	if config.FeatureStoreFactory != nil {
		return config.FeatureStoreFactory(config)
	}
	if config.FeatureStore != nil {
		return config.FeatureStore, nil
	}
	return NewInMemoryFeatureStore(config.Loggers.ForLevel(ldlog.Debug)), nil
}

func createDefaultUpdateProcessor(sdkKey string, config Config, httpClient *http.Client,
	diagnosticsManager *diagnosticsManager) UpdateProcessor {
	if config.UseLdd {
		config.Loggers.Info("Started LaunchDarkly in LDD mode")
		return newNullUpdateProcessor()
	}
	if config.Stream {
		return newStreamProcessor(sdkKey, config, nil, diagnosticsManager)
	}
	config.Loggers.Warn("You should only disable the streaming API if instructed to do so by LaunchDarkly support")
	return newPollingProcessor(config, newRequestor(sdkKey, config, httpClient))
}

// Identify reports details about a user.
func (client *LDClient) Identify(user User) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("Identify called with empty/nil user key!")
		return nil // Don't return an error value because we didn't in the past and it might confuse users
	}
	client.eventProcessor.SendEvent(NewIdentifyEvent(user))
	return nil
}

// Track reports that a user has performed an event. Custom data can be attached to the event
// and will be serialized to JSON; it may be nil.
func (client *LDClient) Track(eventName string, user User, data interface{}) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("Track called with empty/nil user key!")
		return nil
	}
	client.eventProcessor.SendEvent(NewCustomEvent(eventName, user, data))
	return nil
}

// TrackMetric reports that a user has performed an event, and associates it with a numeric
// metric value that can be used by the Experimentation feature in numeric custom metrics.
func (client *LDClient) TrackMetric(eventName string, user User, metricValue float64, data interface{}) error {
	if client.IsOffline() {
		return nil
	}
	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("TrackMetric called with empty/nil user key!")
		return nil
	}
	event := NewCustomEvent(eventName, user, data)
	event.MetricValue = &metricValue
	client.eventProcessor.SendEvent(event)
	return nil
}

// IsOffline returns whether the LaunchDarkly client is in offline mode.
func (client *LDClient) IsOffline() bool {
	return client.config.Offline
}

// SecureModeHash generates the secure mode hash value for a user. See:
// https://docs.launchdarkly.com/sdk/features/secure-mode
func (client *LDClient) SecureModeHash(user User) string {
	if user.Key == nil {
		return ""
	}
	key := []byte(client.sdkKey)
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(*user.Key))
	return hex.EncodeToString(h.Sum(nil))
}

// Initialized returns whether the LaunchDarkly client is initialized. In LDD mode and in
// offline mode the client is considered initialized immediately.
func (client *LDClient) Initialized() bool {
	return client.IsOffline() || client.config.UseLdd || client.updateProcessor.Initialized()
}

// Close shuts down the LaunchDarkly client. After calling this, the client should no longer
// be used. The method will block until all pending analytics events have been sent.
func (client *LDClient) Close() error {
	client.config.Loggers.Info("Closing LaunchDarkly client")
	if client.IsOffline() {
		return nil
	}
	_ = client.eventProcessor.Close()
	_ = client.updateProcessor.Close()
	if client.bigSegments != nil {
		client.bigSegments.Close()
	}
	return nil
}

// Flush tells the client that all pending analytics events (if any) should be delivered as
// soon as possible. Flushing is asynchronous, so this method will return before it is
// complete.
func (client *LDClient) Flush() {
	client.eventProcessor.Flush()
}

// AllFlagsState returns an object that encapsulates the state of all feature flags for a
// given user, including the flag values and also metadata that can be used on the front
// end. You may pass any combination of ClientSideOnly, WithReasons, and
// DetailsOnlyForTrackedFlags as optional parameters to control what data is included.
//
// The most common use case for this method is to bootstrap a set of client-side feature
// flags from a back-end service.
func (client *LDClient) AllFlagsState(user User, options ...FlagsStateOption) FeatureFlagsState {
	valid := true
	if client.IsOffline() {
		client.config.Loggers.Warn("Called AllFlagsState in offline mode. Returning empty state")
		valid = false
	} else if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warn("Called AllFlagsState with no user key. Returning empty state")
		valid = false
	} else if !client.Initialized() {
		if client.store.Initialized() {
			client.config.Loggers.Warn("Called AllFlagsState before client initialization; using last known values from feature store")
		} else {
			client.config.Loggers.Warn("Called AllFlagsState before client initialization. Feature store not available; returning empty state")
			valid = false
		}
	}

	if !valid {
		return newInvalidFeatureFlagsState()
	}

	items, err := client.store.All(Features)
	if err != nil {
		client.config.Loggers.Warn("Unable to fetch flags from feature store. Returning empty state. Error: " + err.Error())
		return newInvalidFeatureFlagsState()
	}

	clientSideOnly := hasFlagsStateOption(options, ClientSideOnly)
	withReasons := hasFlagsStateOption(options, WithReasons)
	detailsOnlyIfTracked := hasFlagsStateOption(options, DetailsOnlyForTrackedFlags)
	state := newFeatureFlagsState()
	for _, item := range items {
		if flag, ok := item.(*FeatureFlag); ok {
			if clientSideOnly && !flag.ClientSide {
				continue
			}
			detail, _ := flag.evaluateDetail(user, client.store, withReasons, client.bigSegmentsProvider())
			var reason EvaluationReason
			if withReasons {
				reason = detail.Reason
			}
			state.addFlag(flag, detail.Value, detail.VariationIndex, reason, detailsOnlyIfTracked)
		}
	}
	return state
}

// BoolVariation returns the value of a boolean feature flag for a given user. Returns
// defaultVal if there is an error, if the flag doesn't exist, or the feature is turned off
// and has no off variation.
func (client *LDClient) BoolVariation(key string, user User, defaultVal bool) (bool, error) {
	detail, err := client.variation(key, user, defaultVal, true, false)
	result, _ := detail.Value.(bool)
	return result, err
}

// BoolVariationDetail is the same as BoolVariation, but also returns further information
// about how the value was calculated. The "reason" data will also be included in analytics
// events.
func (client *LDClient) BoolVariationDetail(key string, user User, defaultVal bool) (bool, EvaluationDetail, error) {
	detail, err := client.variation(key, user, defaultVal, true, true)
	result, _ := detail.Value.(bool)
	return result, detail, err
}

// IntVariation returns the value of a feature flag (whose variations are integers) for the
// given user. Returns defaultVal if there is an error, if the flag doesn't exist, or the
// feature is turned off and has no off variation.
//
// If the flag variation has a numeric value that is not an integer, it is rounded toward
// zero.
func (client *LDClient) IntVariation(key string, user User, defaultVal int) (int, error) {
	detail, err := client.variation(key, user, float64(defaultVal), true, false)
	result, _ := detail.Value.(float64)
	return int(result), err
}

// IntVariationDetail is the same as IntVariation, but also returns further information about
// how the value was calculated. The "reason" data will also be included in analytics events.
func (client *LDClient) IntVariationDetail(key string, user User, defaultVal int) (int, EvaluationDetail, error) {
	detail, err := client.variation(key, user, float64(defaultVal), true, true)
	result, _ := detail.Value.(float64)
	return int(result), detail, err
}

// Float64Variation returns the value of a feature flag (whose variations are floats) for
// the given user. Returns defaultVal if there is an error, if the flag doesn't exist, or
// the feature is turned off and has no off variation.
func (client *LDClient) Float64Variation(key string, user User, defaultVal float64) (float64, error) {
	detail, err := client.variation(key, user, defaultVal, true, false)
	result, _ := detail.Value.(float64)
	return result, err
}

// Float64VariationDetail is the same as Float64Variation, but also returns further
// information about how the value was calculated. The "reason" data will also be included
// in analytics events.
func (client *LDClient) Float64VariationDetail(key string, user User, defaultVal float64) (float64, EvaluationDetail, error) {
	detail, err := client.variation(key, user, defaultVal, true, true)
	result, _ := detail.Value.(float64)
	return result, detail, err
}

// StringVariation returns the value of a feature flag (whose variations are strings) for
// the given user. Returns defaultVal if there is an error, if the flag doesn't exist, or
// the feature is turned off and has no off variation.
func (client *LDClient) StringVariation(key string, user User, defaultVal string) (string, error) {
	detail, err := client.variation(key, user, defaultVal, true, false)
	result, _ := detail.Value.(string)
	return result, err
}

// StringVariationDetail is the same as StringVariation, but also returns further information
// about how the value was calculated. The "reason" data will also be included in analytics
// events.
func (client *LDClient) StringVariationDetail(key string, user User, defaultVal string) (string, EvaluationDetail, error) {
	detail, err := client.variation(key, user, defaultVal, true, true)
	result, _ := detail.Value.(string)
	return result, detail, err
}

// JsonVariation returns the value of a feature flag (whose variations are JSON) for the
// given user. Returns defaultVal if there is an error, if the flag doesn't exist, or the
// feature is turned off and has no off variation.
func (client *LDClient) JsonVariation(key string, user User, defaultVal json.RawMessage) (json.RawMessage, error) { //nolint:golint
	detail, err := client.variation(key, user, defaultVal, false, false)
	if err != nil {
		return defaultVal, err
	}
	valueJSONRawMessage, err := toJSONRawMessage(detail.Value)
	if err != nil {
		return defaultVal, err
	}
	return valueJSONRawMessage, nil
}

// JsonVariationDetail is the same as JsonVariation, but also returns further information
// about how the value was calculated. The "reason" data will also be included in analytics
// events.
func (client *LDClient) JsonVariationDetail(key string, user User, defaultVal json.RawMessage) (json.RawMessage, EvaluationDetail, error) { //nolint:golint
	detail, err := client.variation(key, user, defaultVal, false, true)
	if err != nil {
		return defaultVal, detail, err
	}
	valueJSONRawMessage, err := toJSONRawMessage(detail.Value)
	if err != nil {
		detail.Value = defaultVal
		return defaultVal, detail, err
	}
	return valueJSONRawMessage, detail, nil
}

func toJSONRawMessage(value interface{}) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

// Generic method for evaluating a feature flag for a given user, which also sends the
// analytics event for the evaluation.
func (client *LDClient) variation(key string, user User, defaultVal interface{}, checkType bool,
	sendReasonsInEvents bool) (EvaluationDetail, error) {
	if client.IsOffline() {
		return EvaluationDetail{Value: defaultVal, Reason: newEvalReasonError(EvalErrorClientNotReady)}, nil
	}
	detail, flag, err := client.evaluateInternal(key, user, defaultVal, sendReasonsInEvents)
	if err == nil && checkType && defaultVal != nil &&
		reflect.TypeOf(defaultVal) != reflect.TypeOf(detail.Value) {
		detail = EvaluationDetail{Value: defaultVal, Reason: newEvalReasonError(EvalErrorWrongType)}
		err = fmt.Errorf("feature flag %q returned a value of the wrong type", key)
	}

	// Evaluations with no usable user produce no events at all: there is no user to index
	// or to count in a summary.
	if errReason, ok := detail.Reason.(EvaluationReasonError); ok &&
		errReason.ErrorKind == EvalErrorUserNotSpecified {
		return detail, err
	}

	var evt FeatureRequestEvent
	if flag == nil {
		evt = newUnknownFlagEvent(key, user, defaultVal, detail.Reason, sendReasonsInEvents)
	} else {
		evt = newSuccessfulEvalEvent(flag, user, detail.VariationIndex, detail.Value, defaultVal,
			detail.Reason, sendReasonsInEvents, nil)
	}
	client.eventProcessor.SendEvent(evt)

	return detail, err
}

// Evaluation of a feature flag, without tracking the main evaluation event (prerequisite
// events are still sent, since the caller has no visibility into those).
func (client *LDClient) evaluateInternal(key string, user User, defaultVal interface{},
	sendReasonsInEvents bool) (EvaluationDetail, *FeatureFlag, error) {
	evalErrorResult := func(errKind EvalErrorKind, flag *FeatureFlag, err error) (EvaluationDetail, *FeatureFlag, error) {
		detail := EvaluationDetail{Value: defaultVal, Reason: newEvalReasonError(errKind)}
		return detail, flag, err
	}

	if user.Key == nil || *user.Key == "" {
		client.config.Loggers.Warnf("User.Key is blank when evaluating flag: %s. Returning default value", key)
		return evalErrorResult(EvalErrorUserNotSpecified, nil,
			fmt.Errorf("user.Key cannot be nil or empty when evaluating flag: %s", key))
	}

	if !client.Initialized() {
		if client.store.Initialized() {
			client.config.Loggers.Warn("Feature flag evaluation called before LaunchDarkly client initialization completed; using last known values from feature store")
		} else {
			return evalErrorResult(EvalErrorClientNotReady, nil, ErrClientNotInitialized)
		}
	}

	data, storeErr := client.store.Get(Features, key)
	if storeErr != nil {
		client.config.Loggers.Errorf("Encountered error fetching feature from store: %+v", storeErr)
		return evalErrorResult(EvalErrorException, nil, storeErr)
	}
	if data == nil {
		return evalErrorResult(EvalErrorFlagNotFound, nil,
			fmt.Errorf("unknown feature key: %s. Verify that this feature key exists. Returning default value", key))
	}
	flag, ok := data.(*FeatureFlag)
	if !ok {
		return evalErrorResult(EvalErrorException, nil,
			fmt.Errorf("unexpected data type (%T) found in store for feature key: %s. Returning default value", data, key))
	}

	detail, prereqEvents := flag.evaluateDetail(user, client.store, sendReasonsInEvents,
		client.bigSegmentsProvider())
	if detail.VariationIndex == nil {
		detail.Value = defaultVal
	}
	for _, event := range prereqEvents {
		client.eventProcessor.SendEvent(event)
	}
	return detail, flag, nil
}

// bigSegmentsProvider returns the provider interface for the evaluator, or nil (a typed nil
// would defeat the nil checks in the evaluator) if big segments are not configured.
func (client *LDClient) bigSegmentsProvider() bigSegmentProvider {
	if client.bigSegments == nil {
		return nil
	}
	return client.bigSegments
}

type nullUpdateProcessor struct{}

func newNullUpdateProcessor() nullUpdateProcessor {
	return nullUpdateProcessor{}
}

func (n nullUpdateProcessor) Initialized() bool {
	return true
}

func (n nullUpdateProcessor) Close() error {
	return nil
}

func (n nullUpdateProcessor) Start(closeWhenReady chan<- struct{}) {
	close(closeWhenReady)
}
