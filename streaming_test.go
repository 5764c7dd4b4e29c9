package ldclient

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gor-st/go-server-sdk/ldlog"
)

const initialPutData = `{"path": "/", "data": {` +
	`"flags": {"my-flag": {"key": "my-flag", "version": 2}},` +
	`"segments": {"my-segment": {"key": "my-segment", "version": 3}}}}`

func makeInitialPutEvent() httphelpers.SSEEvent {
	return httphelpers.SSEEvent{Event: putEvent, Data: initialPutData}
}

func makeStreamingTestConfig(streamURI string, store FeatureStore) Config {
	config := DefaultConfig
	config.StreamUri = streamURI
	config.FeatureStore = store
	config.Loggers = ldlog.NewDisabledLoggers()
	config.UserAgent = "test-user-agent"
	config.StreamInitialReconnectDelay = time.Millisecond
	return config
}

func runStreamingTest(
	t *testing.T,
	initialEvent httphelpers.SSEEvent,
	test func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore),
) {
	store := NewInMemoryFeatureStore(nil)
	streamHandler, stream := httphelpers.SSEHandler(&initialEvent)
	httphelpers.WithServer(streamHandler, func(server *httptest.Server) {
		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, store), nil, nil)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		sp.Start(closeWhenReady)
		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for stream processor to initialize")
		}
		require.True(t, sp.Initialized())

		test(stream, store)
	})
}

func waitForItemVersion(t *testing.T, store FeatureStore, kind VersionedDataKind, key string, version int) {
	deadline := time.Now().Add(time.Second * 3)
	for time.Now().Before(deadline) {
		if item, _ := store.Get(kind, key); item != nil && item.GetVersion() == version {
			return
		}
		time.Sleep(time.Millisecond * 5)
	}
	assert.Fail(t, "timed out waiting for store update", "key: %s", key)
}

func waitForItemDeleted(t *testing.T, store FeatureStore, kind VersionedDataKind, key string) {
	deadline := time.Now().Add(time.Second * 3)
	for time.Now().Before(deadline) {
		if item, _ := store.Get(kind, key); item == nil {
			return
		}
		time.Sleep(time.Millisecond * 5)
	}
	assert.Fail(t, "timed out waiting for item to be deleted", "key: %s", key)
}

func TestStreamProcessorInitializedCanBeReadDuringStartup(t *testing.T) {
	initialEvent := makeInitialPutEvent()
	streamHandler, _ := httphelpers.SSEHandler(&initialEvent)
	httphelpers.WithServer(streamHandler, func(server *httptest.Server) {
		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, NewInMemoryFeatureStore(nil)), nil, nil)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		// reads overlap with the stream goroutine setting the initialized state
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-closeWhenReady:
					return
				default:
					sp.Initialized()
				}
			}
		}()
		sp.Start(closeWhenReady)

		select {
		case <-done:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for stream processor to initialize")
		}
		assert.True(t, sp.Initialized())
	})
}

func TestStreamProcessorInitializesStoreFromPut(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		flag, err := store.Get(Features, "my-flag")
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, 2, flag.GetVersion())

		segment, err := store.Get(Segments, "my-segment")
		require.NoError(t, err)
		require.NotNil(t, segment)
		assert.Equal(t, 3, segment.GetVersion())

		assert.True(t, store.Initialized())
	})
}

func TestStreamProcessorAppliesPatchToFlag(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		stream.Enqueue(httphelpers.SSEEvent{
			Event: patchEvent,
			Data:  `{"path": "/flags/my-flag", "data": {"key": "my-flag", "version": 5, "on": true}}`,
		})
		waitForItemVersion(t, store, Features, "my-flag", 5)
		item, _ := store.Get(Features, "my-flag")
		assert.True(t, item.(*FeatureFlag).On)
	})
}

func TestStreamProcessorAppliesPatchToSegment(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		stream.Enqueue(httphelpers.SSEEvent{
			Event: patchEvent,
			Data:  `{"path": "/segments/my-segment", "data": {"key": "my-segment", "version": 7, "included": ["user1"]}}`,
		})
		waitForItemVersion(t, store, Segments, "my-segment", 7)
		item, _ := store.Get(Segments, "my-segment")
		assert.Equal(t, []string{"user1"}, item.(*Segment).Included)
	})
}

func TestStreamProcessorAppliesDeleteToFlag(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		stream.Enqueue(httphelpers.SSEEvent{
			Event: deleteEvent,
			Data:  `{"path": "/flags/my-flag", "version": 10}`,
		})
		waitForItemDeleted(t, store, Features, "my-flag")
	})
}

func TestStreamProcessorAppliesDeleteToSegment(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		stream.Enqueue(httphelpers.SSEEvent{
			Event: deleteEvent,
			Data:  `{"path": "/segments/my-segment", "version": 10}`,
		})
		waitForItemDeleted(t, store, Segments, "my-segment")
	})
}

func TestStreamProcessorIgnoresUnknownEventType(t *testing.T) {
	runStreamingTest(t, makeInitialPutEvent(), func(stream httphelpers.SSEStreamControl, store *InMemoryFeatureStore) {
		stream.Enqueue(httphelpers.SSEEvent{Event: "weird-event", Data: `{}`})
		// a later event is still processed normally
		stream.Enqueue(httphelpers.SSEEvent{
			Event: patchEvent,
			Data:  `{"path": "/flags/my-flag", "data": {"key": "my-flag", "version": 6}}`,
		})
		waitForItemVersion(t, store, Features, "my-flag", 6)
	})
}

func TestStreamProcessorDoesNotInitializeFromMalformedPut(t *testing.T) {
	store := NewInMemoryFeatureStore(nil)
	badEvent := httphelpers.SSEEvent{Event: putEvent, Data: `{sorry`}
	streamHandler, stream := httphelpers.SSEHandler(&badEvent)
	httphelpers.WithServer(streamHandler, func(server *httptest.Server) {
		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, store), nil, nil)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		sp.Start(closeWhenReady)
		select {
		case <-closeWhenReady:
			require.Fail(t, "should not have become ready from malformed data")
		case <-time.After(time.Millisecond * 200):
		}
		assert.False(t, sp.Initialized())

		// a valid put still initializes it afterward
		stream.Enqueue(makeInitialPutEvent())
		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for stream processor to initialize")
		}
		assert.True(t, sp.Initialized())
	})
}

func TestStreamProcessorRequestProperties(t *testing.T) {
	initialEvent := makeInitialPutEvent()
	streamHandler, _ := httphelpers.SSEHandler(&initialEvent)
	handler, requestsCh := httphelpers.RecordingHandler(streamHandler)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, NewInMemoryFeatureStore(nil)), nil, nil)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		sp.Start(closeWhenReady)
		<-closeWhenReady

		r := <-requestsCh
		assert.Equal(t, "/all", r.Request.URL.Path)
		assert.Equal(t, sdkKey, r.Request.Header.Get("Authorization"))
		assert.Equal(t, "test-user-agent", r.Request.Header.Get("User-Agent"))
	})
}

func TestStreamProcessorFailsPermanentlyOn401(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(401))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, NewInMemoryFeatureStore(nil)), nil, nil)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		sp.Start(closeWhenReady)
		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for stream processor to give up")
		}
		assert.False(t, sp.Initialized())

		<-requestsCh
		time.Sleep(time.Millisecond * 200)
		assert.Equal(t, 0, len(requestsCh)) // no retry after an unrecoverable error
	})
}

func TestStreamProcessorRetriesOnRecoverableError(t *testing.T) {
	initialEvent := makeInitialPutEvent()
	streamHandler, _ := httphelpers.SSEHandler(&initialEvent)
	failThenSucceedHandler := httphelpers.SequentialHandler(httphelpers.HandlerWithStatus(503), streamHandler)
	handler, requestsCh := httphelpers.RecordingHandler(failThenSucceedHandler)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		id := newDiagnosticId(sdkKey)
		diagnosticsManager := newDiagnosticsManager(id, Config{}, time.Second, time.Now(), nil)

		sp := newStreamProcessor(sdkKey, makeStreamingTestConfig(server.URL, NewInMemoryFeatureStore(nil)), nil,
			diagnosticsManager)
		defer sp.Close()

		closeWhenReady := make(chan struct{})
		sp.Start(closeWhenReady)
		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for stream processor to initialize")
		}
		assert.True(t, sp.Initialized())

		<-requestsCh
		<-requestsCh
		assert.Equal(t, 0, len(requestsCh))

		event := diagnosticsManager.CreateStatsEventAndReset(0, 0, 0)
		if assert.Len(t, event.StreamInits, 2) {
			assert.True(t, event.StreamInits[0].Failed)
			assert.False(t, event.StreamInits[1].Failed)
		}
	})
}

func TestParsePath(t *testing.T) {
	kind, key, err := parsePath("/flags/my-flag")
	assert.NoError(t, err)
	assert.Equal(t, Features, kind)
	assert.Equal(t, "my-flag", key)

	kind, key, err = parsePath("/segments/my-segment")
	assert.NoError(t, err)
	assert.Equal(t, Segments, kind)
	assert.Equal(t, "my-segment", key)

	_, _, err = parsePath("/other/thing")
	assert.Error(t, err)
}
