package ldclient

import (
	"time"

	"github.com/gor-st/go-server-sdk/ldlog"
)

// Logger is a generic logger interface, identical to ldlog.BaseLogger. Since its methods are
// a subset of Go's log.Logger, log.New() can be used to create one.
type Logger interface {
	Println(values ...interface{})
	Printf(format string, values ...interface{})
}

// UpdateProcessor describes the requirements for an object that receives feature flag data
// from LaunchDarkly and puts it into the feature store.
type UpdateProcessor interface {
	// Initialized returns true if the processor has received a complete data set at least once.
	Initialized() bool
	// Close shuts down the processor.
	Close() error
	// Start begins receiving data; closeWhenReady is closed once a complete data set has been
	// stored (or the processor has permanently failed).
	Start(closeWhenReady chan<- struct{})
}

// UpdateProcessorFactory is a function that creates an UpdateProcessor.
type UpdateProcessorFactory func(sdkKey string, config Config) (UpdateProcessor, error)

// FeatureStoreFactory is a function that creates a FeatureStore.
type FeatureStoreFactory func(config Config) (FeatureStore, error)

// BigSegmentsConfig configures access to a big segment store. Big segments are segments whose
// membership lists are too large to be pushed through the normal data stream; they are
// queried on demand from an external store.
type BigSegmentsConfig struct {
	// Store is the data store implementation that holds big segment membership. If nil, big
	// segments are not available and any flag that references one will report a
	// NOT_CONFIGURED status in its evaluation reason.
	Store BigSegmentStore
	// UserCacheSize is the maximum number of users whose membership is cached. The default
	// is DefaultBigSegmentsUserCacheSize.
	UserCacheSize int
	// UserCacheTime is how long a user's cached membership is used before re-querying. The
	// default is DefaultBigSegmentsUserCacheTime.
	UserCacheTime time.Duration
	// StatusPollInterval is how often the store's metadata is polled to determine whether it
	// is available and up to date. The default is DefaultBigSegmentsStatusPollInterval.
	StatusPollInterval time.Duration
	// StaleAfter is the age of the store's metadata after which the data is considered out
	// of date, causing evaluations to report a STALE status. The default is
	// DefaultBigSegmentsStaleAfter.
	StaleAfter time.Duration
}

// Config exposes advanced configuration options for the LaunchDarkly client.
type Config struct {
	// The base URI of the main LaunchDarkly service.
	BaseUri string
	// The base URI of the LaunchDarkly streaming service.
	StreamUri string
	// The base URI of the LaunchDarkly service that accepts analytics events.
	EventsUri string
	// The full URI for posting analytics events. This is different from EventsUri in that
	// the client will not add the default URI path to it. It should not normally be changed.
	EventsEndpointUri string
	// The capacity of the analytics event queue. When this limit is reached, events will be
	// discarded until the next flush.
	Capacity int
	// The time between flushes of the event buffer. Decreasing the flush interval means that
	// the event buffer is less likely to reach capacity.
	FlushInterval time.Duration
	// Deprecated: this setting is no longer supported and is ignored.
	SamplingInterval int32
	// The polling interval (when streaming is disabled). Values less than the default of
	// MinimumPollInterval will be set to the default.
	PollInterval time.Duration
	// An object that can be used to produce log output.
	//
	// Deprecated: use Loggers, which supports log levels.
	Logger Logger
	// An object that can be used to produce log output with configurable levels.
	Loggers ldlog.Loggers
	// The connection timeout to use when making requests to LaunchDarkly.
	Timeout time.Duration
	// An object that is responsible for storing feature flag data received from LaunchDarkly.
	// By default, this is an in-memory instance; database integrations are also available.
	FeatureStore FeatureStore
	// A factory for the data store. If set, this is used instead of FeatureStore.
	FeatureStoreFactory FeatureStoreFactory
	// Sets whether streaming mode should be enabled. By default, streaming is enabled. It
	// should only be disabled on the advice of LaunchDarkly support.
	Stream bool
	// Sets whether this client should use the LaunchDarkly relay in daemon mode. In this
	// mode, the client does not subscribe to the streaming or polling API, but reads data
	// only from the feature store.
	UseLdd bool
	// Sets whether to send analytics events back to LaunchDarkly. By default, the client
	// will send events. This differs from Offline in that it only affects sending events,
	// not streaming or polling.
	SendEvents bool
	// Sets whether this client is offline. An offline client will not make any network
	// connections to LaunchDarkly, and will return default values for all feature flags.
	Offline bool
	// Sets whether all user attributes (other than the key) should be hidden from
	// LaunchDarkly. If this is true, all user attribute values will be private, not just the
	// attributes specified in PrivateAttributeNames.
	AllAttributesPrivate bool
	// Set to true if you need to see the full user details in every analytics event.
	InlineUsersInEvents bool
	// Marks a set of user attribute names private. Any users sent to LaunchDarkly with this
	// configuration active will have attributes with these names removed.
	PrivateAttributeNames []string
	// Deprecated: this field is unused and will be removed in a future version.
	LogEvaluationErrors bool
	// The User-Agent header to send with HTTP requests. This defaults to a value that
	// identifies the version of the Go SDK.
	UserAgent string
	// The number of user keys that the event processor can remember at any one time, so that
	// duplicate user details will not be sent in analytics events.
	UserKeysCapacity int
	// The interval at which the event processor will reset its set of known user keys.
	UserKeysFlushInterval time.Duration
	// An object that is responsible for receiving feature flag updates from LaunchDarkly.
	// This is normally created automatically; it can be set explicitly for testing, for
	// instance with a file data source.
	UpdateProcessor UpdateProcessor
	// A factory for the update processor. If set, this is used instead of UpdateProcessor.
	UpdateProcessorFactory UpdateProcessorFactory
	// Configures access to a big segment store. If nil, big segments are not available.
	BigSegments *BigSegmentsConfig
	// Set to true to opt out of sending diagnostic events.
	DiagnosticOptOut bool
	// The interval at which periodic diagnostic events will be sent, if DiagnosticOptOut is
	// false. The default is every 15 minutes and the minimum is every minute.
	DiagnosticRecordingInterval time.Duration
	// The initial reconnect delay for the streaming connection. This only affects the first
	// retry; subsequent retries use exponential backoff.
	StreamInitialReconnectDelay time.Duration

	// Used in testing to instrument the diagnostic event mechanism.
	diagnosticRecordingGate <-chan struct{}
}

// MinimumPollInterval describes the minimum value for Config.PollInterval. If you specify a
// smaller interval, the minimum will be used instead.
const MinimumPollInterval = 30 * time.Second

const minimumDiagnosticRecordingInterval = 60 * time.Second

// Default values for BigSegmentsConfig fields.
const (
	DefaultBigSegmentsUserCacheSize      = 1000
	DefaultBigSegmentsUserCacheTime      = 5 * time.Second
	DefaultBigSegmentsStatusPollInterval = 5 * time.Second
	DefaultBigSegmentsStaleAfter         = 2 * time.Minute
)

// DefaultConfig provides the default configuration options for the LaunchDarkly client.
// The easiest way to create a custom configuration is to start with the default config and
// set the custom options from there.
var DefaultConfig = Config{ //nolint:gochecknoglobals
	BaseUri:                     "https://app.launchdarkly.com",
	StreamUri:                   "https://stream.launchdarkly.com",
	EventsUri:                   "https://events.launchdarkly.com",
	Capacity:                    10000,
	FlushInterval:               5 * time.Second,
	PollInterval:                MinimumPollInterval,
	Timeout:                     3000 * time.Millisecond,
	Stream:                      true,
	FeatureStore:                nil,
	UseLdd:                      false,
	SendEvents:                  true,
	Offline:                     false,
	UserAgent:                   "",
	UserKeysCapacity:            1000,
	UserKeysFlushInterval:       5 * time.Minute,
	DiagnosticRecordingInterval: 15 * time.Minute,
	StreamInitialReconnectDelay: time.Second,
}
