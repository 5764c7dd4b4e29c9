package ldclient

import (
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/launchdarkly/ccache"
	"golang.org/x/sync/singleflight"

	"github.com/gor-st/go-server-sdk/ldlog"
)

// BigSegmentStoreMetadata contains values returned by BigSegmentStore.GetMetadata().
type BigSegmentStoreMetadata struct {
	// LastUpToDate is the timestamp, in Unix milliseconds, of the last update to the store's
	// data. It is zero if the store has never been updated.
	LastUpToDate uint64
}

// BigSegmentMembership is the return type of BigSegmentStore.GetUserMembership(). It holds
// the big segment state for one user.
type BigSegmentMembership interface {
	// CheckMembership tests whether the user is explicitly included or explicitly excluded
	// in the specified segment, or neither. The segment is identified by a segmentRef which
	// is not the same as the segment key: it includes the generation.
	//
	// If the user is explicitly included (regardless of whether the user is also explicitly
	// excluded or not - inclusion takes priority over exclusion), the return value is a true
	// pointer. If explicitly excluded and not included, it is a false pointer. If neither,
	// it is nil.
	CheckMembership(segmentRef string) *bool
}

// BigSegmentStore is an interface for a read-only data store that allows querying of user
// membership in big segments. Database integrations provide implementations of it.
type BigSegmentStore interface {
	// GetMetadata returns information about the overall state of the store.
	GetMetadata() (BigSegmentStoreMetadata, error)
	// GetUserMembership queries the store for a snapshot of the current segment state for a
	// specific user, identified by the hashed user key.
	GetUserMembership(userHash string) (BigSegmentMembership, error)
	// Close releases the store's resources.
	Close() error
}

// BigSegmentStoreStatus describes whether a big segment store is (as far as we know)
// currently operational and up to date.
type BigSegmentStoreStatus struct {
	// Available is true if the store is able to respond to queries.
	Available bool
	// Stale is true if the store has not been updated within the configured staleness limit.
	Stale bool
}

// BigSegmentMembershipMap is a minimal map-backed implementation of BigSegmentMembership,
// mainly useful in tests and in custom store implementations.
type BigSegmentMembershipMap map[string]bool

// CheckMembership tests the map for an explicit inclusion or exclusion.
func (m BigSegmentMembershipMap) CheckMembership(segmentRef string) *bool {
	if value, found := m[segmentRef]; found {
		return &value
	}
	return nil
}

// bigSegmentStoreManager mediates between the evaluator and a BigSegmentStore. It caches
// user membership queries, deduplicates concurrent queries for the same user, and polls the
// store's metadata in the background so evaluations can report staleness.
type bigSegmentStoreManager struct {
	store         BigSegmentStore
	staleAfter    time.Duration
	userCache     *ccache.Cache
	userCacheTime time.Duration
	haveStatus    bool
	lastStatus    BigSegmentStoreStatus
	requests      singleflight.Group
	pollCloser    chan struct{}
	closeOnce     sync.Once
	statusLock    sync.RWMutex
	loggers       ldlog.Loggers
}

// This is a package-level function rather than a method for convenience of testing.
func newBigSegmentStoreManager(config BigSegmentsConfig, loggers ldlog.Loggers) *bigSegmentStoreManager {
	userCacheSize := config.UserCacheSize
	if userCacheSize <= 0 {
		userCacheSize = DefaultBigSegmentsUserCacheSize
	}
	userCacheTime := config.UserCacheTime
	if userCacheTime <= 0 {
		userCacheTime = DefaultBigSegmentsUserCacheTime
	}
	pollInterval := config.StatusPollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultBigSegmentsStatusPollInterval
	}
	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultBigSegmentsStaleAfter
	}

	// ItemsToPrune must be 1: the default of 500 would dump most of the cache every time
	// it fills up, instead of evicting just the least recently used user.
	cacheConfig := ccache.Configure().MaxSize(int64(userCacheSize)).ItemsToPrune(1)

	manager := &bigSegmentStoreManager{
		store:         config.Store,
		staleAfter:    staleAfter,
		userCache:     ccache.New(cacheConfig),
		userCacheTime: userCacheTime,
		pollCloser:    make(chan struct{}),
		loggers:       loggers,
	}

	go manager.runPollTask(pollInterval)

	return manager
}

func (m *bigSegmentStoreManager) Close() {
	m.closeOnce.Do(func() {
		close(m.pollCloser)
		m.userCache.Stop()
		_ = m.store.Close()
	})
}

// getUserMembership implements bigSegmentProvider for the evaluator.
func (m *bigSegmentStoreManager) getUserMembership(userKey string) (BigSegmentMembership, BigSegmentsStatus) {
	entry := m.safeCacheGet(userKey)
	var membership BigSegmentMembership
	if entry == nil || entry.Expired() {
		// Use singleflight so multiple goroutines evaluating flags for the same user do not
		// cause redundant queries.
		value, err, _ := m.requests.Do(userKey, func() (interface{}, error) {
			hash := HashForUserKey(userKey)
			m.loggers.Debugf("Querying big segment state for user hash %q", hash)
			return m.store.GetUserMembership(hash)
		})
		if err != nil {
			m.loggers.Errorf("Big segment store returned error: %s", err)
			return nil, BigSegmentsStoreError
		}
		if value == nil {
			m.safeCacheSet(userKey, nil)
		} else {
			membership = value.(BigSegmentMembership)
			m.safeCacheSet(userKey, membership)
		}
	} else if entry.Value() != nil {
		membership = entry.Value().(BigSegmentMembership)
	}

	status := m.getStatus()
	switch {
	case !status.Available:
		return membership, BigSegmentsStoreError
	case status.Stale:
		return membership, BigSegmentsStale
	default:
		return membership, BigSegmentsHealthy
	}
}

func (m *bigSegmentStoreManager) getStatus() BigSegmentStoreStatus {
	m.statusLock.RLock()
	status := m.lastStatus
	haveStatus := m.haveStatus
	m.statusLock.RUnlock()

	if haveStatus {
		return status
	}
	return m.pollStoreAndUpdateStatus()
}

func (m *bigSegmentStoreManager) pollStoreAndUpdateStatus() BigSegmentStoreStatus {
	var newStatus BigSegmentStoreStatus
	metadata, err := m.store.GetMetadata()

	m.statusLock.Lock()
	if err == nil {
		newStatus.Available = true
		newStatus.Stale = m.isStale(metadata.LastUpToDate)
	} else {
		m.loggers.Errorf("Big segment store status query returned error: %s", err)
		newStatus.Available = false
	}
	oldStatus := m.lastStatus
	m.lastStatus = newStatus
	hadStatus := m.haveStatus
	m.haveStatus = true
	m.statusLock.Unlock()

	if !hadStatus || oldStatus != newStatus {
		m.loggers.Debugf("Big segment store status changed from %+v to %+v", oldStatus, newStatus)
	}
	return newStatus
}

func (m *bigSegmentStoreManager) isStale(updateTime uint64) bool {
	age := time.Duration(int64(now())-int64(updateTime)) * time.Millisecond
	return age >= m.staleAfter
}

func (m *bigSegmentStoreManager) runPollTask(pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.pollCloser:
			return
		case <-ticker.C:
			m.pollStoreAndUpdateStatus()
		}
	}
}

// safeCacheGet and safeCacheSet are necessary because ccache.Cache does not support
// concurrent requests once Stop has been called.
func (m *bigSegmentStoreManager) safeCacheGet(key string) *ccache.Item {
	defer func() { _ = recover() }()
	return m.userCache.Get(key)
}

func (m *bigSegmentStoreManager) safeCacheSet(key string, value interface{}) {
	defer func() { _ = recover() }()
	m.userCache.Set(key, value, m.userCacheTime)
}

// HashForUserKey computes the hash that a big segment store implementation uses as the key
// for a user's membership data.
func HashForUserKey(key string) string {
	hashBytes := sha256.Sum256([]byte(key))
	return base64.StdEncoding.EncodeToString(hashBytes[:])
}
