package ldclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gor-st/go-server-sdk/ldlog"
)

func makePollingTestConfig(baseURI string, store FeatureStore) Config {
	config := DefaultConfig
	config.BaseUri = baseURI
	config.FeatureStore = store
	config.Loggers = ldlog.NewDisabledLoggers()
	config.PollInterval = time.Millisecond * 10
	return config
}

func startPollingProcessor(config Config) (*pollingProcessor, <-chan struct{}) {
	pp := newPollingProcessor(config, newRequestor(sdkKey, config, nil))
	closeWhenReady := make(chan struct{})
	pp.Start(closeWhenReady)
	return pp, closeWhenReady
}

func TestPollingProcessorInitialization(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(200, nil, []byte(requestorTestDataJSON)))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		store := NewInMemoryFeatureStore(nil)
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, store))
		defer pp.Close()

		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for polling processor to initialize")
		}
		assert.True(t, pp.Initialized())

		flag, err := store.Get(Features, "my-flag")
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, 2, flag.GetVersion())

		segment, err := store.Get(Segments, "my-segment")
		require.NoError(t, err)
		require.NotNil(t, segment)
		assert.Equal(t, 3, segment.GetVersion())

		req := <-requestsCh
		assert.Equal(t, "/sdk/latest-all", req.Request.URL.Path)
		assert.Equal(t, sdkKey, req.Request.Header.Get("Authorization"))
	})
}

func TestPollingProcessorInitializedCanBeReadDuringStartup(t *testing.T) {
	handler := httphelpers.HandlerWithResponse(200, nil, []byte(requestorTestDataJSON))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, NewInMemoryFeatureStore(nil)))
		defer pp.Close()

		// reads overlap with the poll goroutine setting the initialized state
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-closeWhenReady:
					return
				default:
					pp.Initialized()
				}
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for polling processor to initialize")
		}
		assert.True(t, pp.Initialized())
	})
}

func TestPollingProcessorPollsRepeatedly(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(200, nil, []byte(requestorTestDataJSON)))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, NewInMemoryFeatureStore(nil)))
		defer pp.Close()

		<-closeWhenReady
		// at the 10ms poll interval, more requests show up quickly
		for i := 0; i < 3; i++ {
			select {
			case <-requestsCh:
			case <-time.After(time.Second):
				require.Fail(t, "timed out waiting for polling request")
			}
		}
	})
}

func TestPollingProcessorGivesUpOnUnrecoverableError(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(401))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, NewInMemoryFeatureStore(nil)))
		defer pp.Close()

		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for polling processor to give up")
		}
		assert.False(t, pp.Initialized())

		<-requestsCh
		time.Sleep(time.Millisecond * 100)
		assert.Equal(t, 0, len(requestsCh)) // polling stopped after an unrecoverable error
	})
}

func TestPollingProcessorRetriesOnRecoverableError(t *testing.T) {
	handler := httphelpers.SequentialHandler(
		httphelpers.HandlerWithStatus(503),
		httphelpers.HandlerWithResponse(200, nil, []byte(requestorTestDataJSON)),
	)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, NewInMemoryFeatureStore(nil)))
		defer pp.Close()

		select {
		case <-closeWhenReady:
		case <-time.After(time.Second * 3):
			require.Fail(t, "timed out waiting for polling processor to initialize")
		}
		assert.True(t, pp.Initialized())
	})
}

func TestPollingProcessorSkipsCachedResponse(t *testing.T) {
	cacheableResponseHeaders := make(http.Header)
	cacheableResponseHeaders.Set("ETag", "x")
	cacheableResponseHeaders.Set("Cache-Control", "max-age=0")
	handler := httphelpers.SequentialHandler(
		httphelpers.HandlerWithResponse(200, cacheableResponseHeaders, []byte(requestorTestDataJSON)),
		httphelpers.HandlerWithStatus(304),
	)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		store := NewInMemoryFeatureStore(nil)
		pp, closeWhenReady := startPollingProcessor(makePollingTestConfig(server.URL, store))
		defer pp.Close()

		<-closeWhenReady
		require.True(t, pp.Initialized())

		// overwrite the stored flag; a 304 poll must not reinitialize the store over it
		require.NoError(t, store.Upsert(Features, &FeatureFlag{Key: "my-flag", Version: 100}))
		time.Sleep(time.Millisecond * 100)

		flag, err := store.Get(Features, "my-flag")
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, 100, flag.GetVersion())
	})
}

func TestTickerWithInitialTickTicksImmediately(t *testing.T) {
	ticker := newTickerWithInitialTick(time.Hour)
	defer ticker.Stop()
	select {
	case <-ticker.C:
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for initial tick")
	}
}
