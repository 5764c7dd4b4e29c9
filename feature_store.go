package ldclient

import (
	"sync"
)

// FeatureStore is an interface describing a structure that maintains the live collection of
// features and related objects. Whenever the SDK retrieves feature flag data from
// LaunchDarkly, via streaming or polling, it puts the data into the feature store; then it
// queries the store whenever a flag needs to be evaluated. Therefore, implementations must
// be thread-safe.
type FeatureStore interface {
	// Get returns an individual object of a given type from the store. If the item is
	// deleted or does not exist, it returns nil with a nil error.
	Get(kind VersionedDataKind, key string) (VersionedData, error)
	// All returns all of the objects of a given kind from the store, excluding deleted items.
	All(kind VersionedDataKind) (map[string]VersionedData, error)
	// Init replaces the entire contents of the store with the specified set of objects.
	Init(data map[VersionedDataKind]map[string]VersionedData) error
	// Delete removes the specified object from the store by storing a placeholder with the
	// given version, unless a newer version already exists.
	Delete(kind VersionedDataKind, key string, version int) error
	// Upsert adds or updates the specified object, unless an equal or newer version already
	// exists.
	Upsert(kind VersionedDataKind, item VersionedData) error
	// Initialized returns true if the store has ever been initialized with data.
	Initialized() bool
}

// InMemoryFeatureStore is a memory based FeatureStore implementation, backed by a lock-striped map.
type InMemoryFeatureStore struct {
	allData       map[VersionedDataKind]map[string]VersionedData
	isInitialized bool
	sync.RWMutex
	logger Logger
}

// NewInMemoryFeatureStore creates a new in-memory FeatureStore instance. The logger is used
// to warn about invalid operations; it may be nil.
func NewInMemoryFeatureStore(logger Logger) *InMemoryFeatureStore {
	return &InMemoryFeatureStore{
		allData:       make(map[VersionedDataKind]map[string]VersionedData),
		isInitialized: false,
		logger:        logger,
	}
}

// Get returns an individual object of a given type from the store.
func (store *InMemoryFeatureStore) Get(kind VersionedDataKind, key string) (VersionedData, error) {
	store.RLock()
	defer store.RUnlock()
	if store.allData[kind] == nil {
		return nil, nil
	}
	item := store.allData[kind][key]

	if item == nil {
		if store.logger != nil {
			store.logger.Printf(`Key: %s not found in "%s"`, key, kind)
		}
		return nil, nil
	} else if item.IsDeleted() {
		if store.logger != nil {
			store.logger.Printf(`Attempted to get deleted item in "%s". Key: %s`, kind, key)
		}
		return nil, nil
	}
	return item, nil
}

// All returns all the objects of a given kind from the store.
func (store *InMemoryFeatureStore) All(kind VersionedDataKind) (map[string]VersionedData, error) {
	store.RLock()
	defer store.RUnlock()
	ret := make(map[string]VersionedData)

	for k, v := range store.allData[kind] {
		if !v.IsDeleted() {
			ret[k] = v
		}
	}
	return ret, nil
}

// Delete removes an item of a given kind from the store by storing a tombstone.
func (store *InMemoryFeatureStore) Delete(kind VersionedDataKind, key string, version int) error {
	store.Lock()
	defer store.Unlock()
	if store.allData[kind] == nil {
		store.allData[kind] = make(map[string]VersionedData)
	}
	items := store.allData[kind]
	item := items[key]
	if item == nil || item.GetVersion() < version {
		items[key] = kind.MakeDeletedItem(key, version)
	}
	return nil
}

// Init populates the store with a complete set of versioned data.
func (store *InMemoryFeatureStore) Init(allData map[VersionedDataKind]map[string]VersionedData) error {
	store.Lock()
	defer store.Unlock()

	store.allData = make(map[VersionedDataKind]map[string]VersionedData)

	for k, v := range allData {
		items := make(map[string]VersionedData)
		for k1, v1 := range v {
			items[k1] = v1
		}
		store.allData[k] = items
	}

	store.isInitialized = true
	return nil
}

// Upsert inserts or replaces an item in the store unless there is already a newer version.
func (store *InMemoryFeatureStore) Upsert(kind VersionedDataKind, item VersionedData) error {
	store.Lock()
	defer store.Unlock()
	if store.allData[kind] == nil {
		store.allData[kind] = make(map[string]VersionedData)
	}
	items := store.allData[kind]
	old := items[item.GetKey()]

	if old == nil || old.GetVersion() < item.GetVersion() {
		items[item.GetKey()] = item
	}
	return nil
}

// Initialized returns whether the store has been initialized with data.
func (store *InMemoryFeatureStore) Initialized() bool {
	store.RLock()
	defer store.RUnlock()
	return store.isInitialized
}

// GetDiagnosticsComponentTypeName implements the optional interface used by diagnostic events
// to describe the data store type.
func (store *InMemoryFeatureStore) GetDiagnosticsComponentTypeName() string {
	return "memory"
}
