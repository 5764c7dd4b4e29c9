package ldclient

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

type diagnosticId struct { //nolint:golint
	DiagnosticID string `json:"diagnosticId"`
	SDKKeySuffix string `json:"sdkKeySuffix,omitempty"`
}

type diagnosticSDKData struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type diagnosticPlatformData struct {
	Name      string `json:"name"`
	GoVersion string `json:"goVersion"`
	OSArch    string `json:"osArch"`
	OSName    string `json:"osName"`
}

type milliseconds int

type diagnosticConfigData struct {
	CustomBaseURI                     bool         `json:"customBaseURI"`
	CustomStreamURI                   bool         `json:"customStreamURI"`
	CustomEventsURI                   bool         `json:"customEventsURI"`
	DataStoreType                     *string      `json:"dataStoreType,omitempty"`
	EventsCapacity                    int          `json:"eventsCapacity"`
	ConnectTimeoutMillis              milliseconds `json:"connectTimeoutMillis"`
	SocketTimeoutMillis               milliseconds `json:"socketTimeoutMillis"`
	EventsFlushIntervalMillis         milliseconds `json:"eventsFlushIntervalMillis"`
	PollingIntervalMillis             milliseconds `json:"pollingIntervalMillis"`
	StartWaitMillis                   milliseconds `json:"startWaitMillis"`
	ReconnectTimeMillis               milliseconds `json:"reconnectTimeMillis"`
	StreamingDisabled                 bool         `json:"streamingDisabled"`
	UsingRelayDaemon                  bool         `json:"usingRelayDaemon"`
	Offline                           bool         `json:"offline"`
	AllAttributesPrivate              bool         `json:"allAttributesPrivate"`
	InlineUsersInEvents               bool         `json:"inlineUsersInEvents"`
	UserKeysCapacity                  int          `json:"userKeysCapacity"`
	UserKeysFlushIntervalMillis       milliseconds `json:"userKeysFlushIntervalMillis"`
	UsingProxy                        bool         `json:"usingProxy"`
	DiagnosticRecordingIntervalMillis milliseconds `json:"diagnosticRecordingIntervalMillis"`
}

type diagnosticBaseEvent struct {
	Kind         string       `json:"kind"`
	ID           diagnosticId `json:"id"`
	CreationDate uint64       `json:"creationDate"`
}

type diagnosticInitEvent struct {
	diagnosticBaseEvent
	SDK           diagnosticSDKData      `json:"sdk"`
	Configuration diagnosticConfigData   `json:"configuration"`
	Platform      diagnosticPlatformData `json:"platform"`
}

type diagnosticPeriodicEvent struct {
	diagnosticBaseEvent
	DataSinceDate     uint64                     `json:"dataSinceDate"`
	DroppedEvents     int                        `json:"droppedEvents"`
	DeduplicatedUsers int                        `json:"deduplicatedUsers"`
	EventsInLastBatch int                        `json:"eventsInLastBatch"`
	StreamInits       []diagnosticStreamInitInfo `json:"streamInits"`
}

type diagnosticStreamInitInfo struct {
	Timestamp      uint64       `json:"timestamp"`
	Failed         bool         `json:"failed"`
	DurationMillis milliseconds `json:"durationMillis"`
}

type diagnosticsManager struct {
	id                diagnosticId
	config            Config
	startWaitTime     time.Duration // passed in separately because it is not part of the Config
	startTime         uint64
	dataSinceTime     uint64
	streamInits       []diagnosticStreamInitInfo
	periodicEventGate <-chan struct{}
	lock              sync.Mutex
}

// Optional interface that can be implemented by components whose types can't be easily
// determined by looking at the config object.
type diagnosticsComponentDescriptor interface {
	GetDiagnosticsComponentTypeName() string
}

func durationToMillis(d time.Duration) milliseconds {
	return milliseconds(d / time.Millisecond)
}

func newDiagnosticId(sdkKey string) diagnosticId { //nolint:golint
	uuid, _ := uuid.NewRandom()
	id := diagnosticId{
		DiagnosticID: uuid.String(),
	}
	if len(sdkKey) > 6 {
		id.SDKKeySuffix = sdkKey[len(sdkKey)-6:]
	} else {
		id.SDKKeySuffix = sdkKey
	}
	return id
}

func newDiagnosticsManager(
	id diagnosticId,
	config Config,
	startWaitTime time.Duration,
	startTime time.Time,
	periodicEventGate <-chan struct{}, // periodicEventGate is test instrumentation - see CanSendStatsEvent
) *diagnosticsManager {
	timestamp := toUnixMillis(startTime)
	return &diagnosticsManager{
		id:                id,
		config:            config,
		startWaitTime:     startWaitTime,
		startTime:         timestamp,
		dataSinceTime:     timestamp,
		periodicEventGate: periodicEventGate,
	}
}

// Called by the stream processor when a stream connection has either succeeded or failed.
func (m *diagnosticsManager) RecordStreamInit(timestamp uint64, failed bool, durationMillis milliseconds) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.streamInits = append(m.streamInits, diagnosticStreamInitInfo{
		Timestamp:      timestamp,
		Failed:         failed,
		DurationMillis: durationMillis,
	})
}

// Called by the event processor to create the initial diagnostics event that includes the
// configuration.
func (m *diagnosticsManager) CreateInitEvent() diagnosticInitEvent {
	sdkData := diagnosticSDKData{
		Name:    "go-server-sdk",
		Version: Version,
	}
	// usingProxy: there are many ways to implement an HTTP proxy in Go, but the only one we
	// can detect is the HTTP_PROXY environment variable; programmatic approaches involve a
	// custom transport, which we have no way of distinguishing from other custom transports.
	configData := diagnosticConfigData{
		CustomBaseURI:                     m.config.BaseUri != DefaultConfig.BaseUri,
		CustomStreamURI:                   m.config.StreamUri != DefaultConfig.StreamUri,
		CustomEventsURI:                   m.config.EventsUri != DefaultConfig.EventsUri,
		DataStoreType:                     getComponentTypeName(m.config.FeatureStore),
		EventsCapacity:                    m.config.Capacity,
		ConnectTimeoutMillis:              durationToMillis(m.config.Timeout),
		SocketTimeoutMillis:               durationToMillis(m.config.Timeout),
		EventsFlushIntervalMillis:         durationToMillis(m.config.FlushInterval),
		PollingIntervalMillis:             durationToMillis(m.config.PollInterval),
		StartWaitMillis:                   durationToMillis(m.startWaitTime),
		ReconnectTimeMillis:               durationToMillis(m.config.StreamInitialReconnectDelay),
		StreamingDisabled:                 !m.config.Stream,
		UsingRelayDaemon:                  m.config.UseLdd,
		Offline:                           m.config.Offline,
		AllAttributesPrivate:              m.config.AllAttributesPrivate,
		InlineUsersInEvents:               m.config.InlineUsersInEvents,
		UserKeysCapacity:                  m.config.UserKeysCapacity,
		UserKeysFlushIntervalMillis:       durationToMillis(m.config.UserKeysFlushInterval),
		UsingProxy:                        os.Getenv("HTTP_PROXY") != "",
		DiagnosticRecordingIntervalMillis: durationToMillis(m.config.DiagnosticRecordingInterval),
	}
	platformData := diagnosticPlatformData{
		Name:      "Go",
		GoVersion: runtime.Version(),
		OSName:    normalizeOSName(runtime.GOOS),
		OSArch:    runtime.GOARCH,
	}
	return diagnosticInitEvent{
		diagnosticBaseEvent: diagnosticBaseEvent{
			Kind:         "diagnostic-init",
			ID:           m.id,
			CreationDate: m.startTime,
		},
		SDK:           sdkData,
		Configuration: configData,
		Platform:      platformData,
	}
}

// This is strictly for test instrumentation. In unit tests, we need to be able to stop the
// event processor from constructing the periodic event until the test has finished setting
// up its preconditions. This is done by passing in a gate channel that the test pushes to.
func (m *diagnosticsManager) CanSendStatsEvent() bool {
	if m.periodicEventGate != nil {
		select {
		case <-m.periodicEventGate: // non-blocking receive
			return true
		default:
			return false
		}
	}
	return true
}

// Called by the event processor to create the periodic event containing usage statistics.
// Some of the statistics are passed in as parameters because the event processor owns them
// and can track them with no locking.
func (m *diagnosticsManager) CreateStatsEventAndReset(
	droppedEvents int,
	deduplicatedUsers int,
	eventsInLastBatch int,
) diagnosticPeriodicEvent {
	m.lock.Lock()
	defer m.lock.Unlock()
	timestamp := now()
	event := diagnosticPeriodicEvent{
		diagnosticBaseEvent: diagnosticBaseEvent{
			Kind:         "diagnostic",
			ID:           m.id,
			CreationDate: timestamp,
		},
		DataSinceDate:     m.dataSinceTime,
		EventsInLastBatch: eventsInLastBatch,
		DroppedEvents:     droppedEvents,
		DeduplicatedUsers: deduplicatedUsers,
		StreamInits:       m.streamInits,
	}
	m.streamInits = nil
	m.dataSinceTime = timestamp
	return event
}

func getComponentTypeName(component interface{}) *string {
	if component == nil {
		return nil
	}
	name := "custom"
	if dcd, ok := component.(diagnosticsComponentDescriptor); ok {
		name = dcd.GetDiagnosticsComponentTypeName()
	}
	return &name
}

func normalizeOSName(osName string) string {
	switch osName {
	case "darwin":
		return "MacOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	}
	return osName
}
