// Package utils contains support code that most application code will not need to use
// directly. It includes the caching wrapper that database feature store integrations are
// built on.
package utils

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	ld "github.com/gor-st/go-server-sdk"
)

// FeatureStoreCore is an interface for a simplified subset of the functionality of
// ld.FeatureStore, to be used in conjunction with NewFeatureStoreWrapper. This allows
// developers of custom FeatureStore implementations to avoid repeating logic that would
// commonly be needed in any such implementation, such as caching. Instead, they can
// implement only FeatureStoreCore and then call NewFeatureStoreWrapper.
type FeatureStoreCore interface {
	// GetInternal queries a single item from the data store. The kind parameter distinguishes
	// between different categories of data (flags, segments) and the key is the unique key
	// within that category. If no such item exists, the method should return (nil, nil).
	// It should not attempt to filter out any items based on their Deleted property, nor to
	// cache any items.
	GetInternal(kind ld.VersionedDataKind, key string) (ld.VersionedData, error)
	// GetAllInternal queries all items in a given category from the data store, returning a
	// map of unique keys to items. It should not attempt to filter out any items based on
	// their Deleted property, nor to cache any items.
	GetAllInternal(kind ld.VersionedDataKind) (map[string]ld.VersionedData, error)
	// InitInternal replaces the entire contents of the data store. This should be done
	// atomically (i.e. within a transaction).
	InitInternal(map[ld.VersionedDataKind]map[string]ld.VersionedData) error
	// UpsertInternal adds or updates a single item. If an item with the same key already
	// exists, it should update it only if the new item's GetVersion() value is greater than
	// the old one. It should return the final state of the item, i.e. if the update succeeded
	// then it returns the item that was passed in, and if the update failed due to the
	// version check then it returns the item that is currently in the data store (this
	// ensures that caching works correctly).
	//
	// Note that deletes are implemented by upserting a tombstone item whose Deleted property
	// is true.
	UpsertInternal(kind ld.VersionedDataKind, item ld.VersionedData) (ld.VersionedData, error)
	// InitializedInternal returns true if the data store contains a complete data set,
	// meaning that InitInternal has been called at some point. In a shared data store, it
	// should be able to detect this even if InitInternal was called in a different process,
	// i.e. the test should be based on looking at what is in the data store.
	InitializedInternal() bool
	// GetCacheTTL returns the length of time that data should be retained in an in-memory
	// cache. This cache is maintained by the wrapper. If GetCacheTTL returns zero, there
	// will be no cache. If it returns a negative number, the cache never expires.
	GetCacheTTL() time.Duration
}

// NonAtomicFeatureStoreCore is an alternative to FeatureStoreCore for data stores that
// cannot update the full data set atomically. The wrapper will call
// InitCollectionsInternal with the data specified in an order that preserves dependencies:
// an item never appears before the items it depends on.
type NonAtomicFeatureStoreCore interface {
	// GetInternal is the same as in FeatureStoreCore.
	GetInternal(kind ld.VersionedDataKind, key string) (ld.VersionedData, error)
	// GetAllInternal is the same as in FeatureStoreCore.
	GetAllInternal(kind ld.VersionedDataKind) (map[string]ld.VersionedData, error)
	// InitCollectionsInternal replaces the entire contents of the data store. The ordering
	// of the collections, and of the items within each collection, must be preserved when
	// writing so that the store never momentarily refers to an item that is not yet present.
	InitCollectionsInternal(allData []StoreCollection) error
	// UpsertInternal is the same as in FeatureStoreCore.
	UpsertInternal(kind ld.VersionedDataKind, item ld.VersionedData) (ld.VersionedData, error)
	// InitializedInternal is the same as in FeatureStoreCore.
	InitializedInternal() bool
	// GetCacheTTL is the same as in FeatureStoreCore.
	GetCacheTTL() time.Duration
}

// StoreCollection is used by NonAtomicFeatureStoreCore.InitCollectionsInternal. The items
// are in dependency order.
type StoreCollection struct {
	Kind  ld.VersionedDataKind
	Items []ld.VersionedData
}

const initCheckedKey = "$initChecked"

// featureStoreWrapper adds a read-through cache and other standard behavior to a
// FeatureStoreCore, producing a complete ld.FeatureStore.
type featureStoreWrapper struct {
	core          FeatureStoreCore
	coreNonAtomic NonAtomicFeatureStoreCore
	cache         *cache.Cache
	inited        bool
	initLock      sync.RWMutex
}

// NewFeatureStoreWrapper creates an instance of ld.FeatureStore that wraps an instance of
// FeatureStoreCore.
func NewFeatureStoreWrapper(core FeatureStoreCore) ld.FeatureStore {
	w := featureStoreWrapper{core: core}
	if core.GetCacheTTL() != 0 {
		w.cache = cache.New(core.GetCacheTTL(), 5*time.Minute)
	}
	return &w
}

// NewNonAtomicFeatureStoreWrapper creates an instance of ld.FeatureStore that wraps an
// instance of NonAtomicFeatureStoreCore.
func NewNonAtomicFeatureStoreWrapper(core NonAtomicFeatureStoreCore) ld.FeatureStore {
	w := featureStoreWrapper{core: coreAdapter{core}, coreNonAtomic: core}
	if core.GetCacheTTL() != 0 {
		w.cache = cache.New(core.GetCacheTTL(), 5*time.Minute)
	}
	return &w
}

// coreAdapter lets the wrapper treat a NonAtomicFeatureStoreCore as a FeatureStoreCore for
// everything except Init.
type coreAdapter struct {
	NonAtomicFeatureStoreCore
}

func (c coreAdapter) InitInternal(map[ld.VersionedDataKind]map[string]ld.VersionedData) error {
	// Never called; Init goes through initCore which detects the non-atomic case.
	return nil
}

func featureStoreCacheKey(kind ld.VersionedDataKind, key string) string {
	return kind.GetNamespace() + ":" + key
}

func featureStoreAllItemsCacheKey(kind ld.VersionedDataKind) string {
	return "all:" + kind.GetNamespace()
}

// Get retrieves a single item by key, with optional caching. A cached nil is a valid result
// meaning the item is known not to exist, so we do not re-query the store for it.
func (w *featureStoreWrapper) Get(kind ld.VersionedDataKind, key string) (ld.VersionedData, error) {
	if w.cache == nil {
		item, err := w.core.GetInternal(kind, key)
		return itemOnlyIfNotDeleted(item), err
	}
	cacheKey := featureStoreCacheKey(kind, key)
	if data, present := w.cache.Get(cacheKey); present {
		if data == nil { // If present is true but data is nil, we have cached the absence of an item
			return nil, nil
		}
		if item, ok := data.(ld.VersionedData); ok {
			return itemOnlyIfNotDeleted(item), nil
		}
	}
	// Item was not cached or cached value was not valid
	item, err := w.core.GetInternal(kind, key)
	if err == nil {
		w.cache.Set(cacheKey, item, cache.DefaultExpiration)
	}
	return itemOnlyIfNotDeleted(item), err
}

func itemOnlyIfNotDeleted(item ld.VersionedData) ld.VersionedData {
	if item != nil && item.IsDeleted() {
		return nil
	}
	return item
}

// All retrieves all of the items of a kind (of their latest versions), with optional caching.
func (w *featureStoreWrapper) All(kind ld.VersionedDataKind) (map[string]ld.VersionedData, error) {
	if w.cache == nil {
		return w.filterItems(w.core.GetAllInternal(kind))
	}
	// Check whether we have a cache item for the entire data set
	cacheKey := featureStoreAllItemsCacheKey(kind)
	if data, present := w.cache.Get(cacheKey); present {
		if items, ok := data.(map[string]ld.VersionedData); ok {
			return items, nil
		}
	}
	// Data set was not cached or cached value was not valid
	items, err := w.filterItems(w.core.GetAllInternal(kind))
	if err == nil {
		w.cache.Set(cacheKey, items, cache.DefaultExpiration)
	}
	return items, err
}

func (w *featureStoreWrapper) filterItems(items map[string]ld.VersionedData, err error) (map[string]ld.VersionedData, error) {
	if err != nil {
		return nil, err
	}
	ret := make(map[string]ld.VersionedData, len(items))
	for key, item := range items {
		if !item.IsDeleted() {
			ret[key] = item
		}
	}
	return ret, nil
}

// Init performs an update of the entire data store, with optional caching.
func (w *featureStoreWrapper) Init(allData map[ld.VersionedDataKind]map[string]ld.VersionedData) error {
	err := w.initCore(allData)
	if w.cache != nil {
		w.cache.Flush()
	}
	if err != nil && !w.hasCacheWithInfiniteTTL() {
		// Normally, if the underlying store failed to do the update, we do not want to update
		// the cache - the idea being that it's better to stay in a consistent state of having
		// old data than to act like we have new data but then suddenly fall back to old data
		// when the cache expires. However, if the cache TTL is infinite, then it makes sense
		// to update the cache always.
		return err
	}
	if w.cache != nil {
		for kind, items := range allData {
			w.cacheItems(kind, items)
		}
	}
	if err == nil || w.hasCacheWithInfiniteTTL() {
		w.initLock.Lock()
		defer w.initLock.Unlock()
		w.inited = true
	}
	return err
}

func (w *featureStoreWrapper) initCore(allData map[ld.VersionedDataKind]map[string]ld.VersionedData) error {
	if w.coreNonAtomic != nil {
		// If the store uses non-atomic initialization, we'll need to put the data in the
		// proper update order and call InitCollectionsInternal.
		colls := transformUnorderedDataToOrderedData(allData)
		return w.coreNonAtomic.InitCollectionsInternal(colls)
	}
	return w.core.InitInternal(allData)
}

func (w *featureStoreWrapper) cacheItems(kind ld.VersionedDataKind, items map[string]ld.VersionedData) {
	if w.cache != nil {
		copyOfItems := make(map[string]ld.VersionedData, len(items))
		for key, item := range items {
			w.cache.Set(featureStoreCacheKey(kind, key), item, cache.DefaultExpiration)
			copyOfItems[key] = item
		}
		w.cache.Set(featureStoreAllItemsCacheKey(kind), copyOfItems, cache.DefaultExpiration)
	}
}

// Upsert updates or adds an item, with optional caching.
func (w *featureStoreWrapper) Upsert(kind ld.VersionedDataKind, item ld.VersionedData) error {
	finalItem, err := w.core.UpsertInternal(kind, item)
	// Normally, if the underlying store failed to do the update, we do not want to update the
	// cache. But if the cache TTL is infinite, the cache is the source of truth, so update it.
	if err != nil && !w.hasCacheWithInfiniteTTL() {
		return err
	}
	// Note that what we put into the cache is finalItem, which may not be the same as item
	// (i.e. if the store contained a newer version).
	if finalItem != nil && w.cache != nil {
		w.cache.Set(featureStoreCacheKey(kind, item.GetKey()), finalItem, cache.DefaultExpiration)
		// If the cache has a finite TTL, then we should remove the "all items" cache entry to
		// force a reread the next time All is called. However, if it has an infinite TTL, we
		// need to just update the item within the existing "all items" entry (since we want
		// things to still work even if the underlying store is unavailable).
		allCacheKey := featureStoreAllItemsCacheKey(kind)
		if w.hasCacheWithInfiniteTTL() {
			if data, present := w.cache.Get(allCacheKey); present {
				if items, ok := data.(map[string]ld.VersionedData); ok {
					items[item.GetKey()] = finalItem // updates the existing map since maps are passed by reference
				}
			} else {
				w.cache.Set(allCacheKey, map[string]ld.VersionedData{item.GetKey(): finalItem}, cache.DefaultExpiration)
			}
		} else {
			w.cache.Delete(allCacheKey)
		}
	}
	return err
}

// Delete deletes an item, with optional caching.
func (w *featureStoreWrapper) Delete(kind ld.VersionedDataKind, key string, version int) error {
	deletedItem := kind.MakeDeletedItem(key, version)
	return w.Upsert(kind, deletedItem)
}

// Initialized returns true if the feature store contains a data set. To avoid calling the
// underlying implementation any more often than necessary (since that could be a database
// query), we use the rule that if it has returned true once, it will always return true;
// and if the cache is enabled, a false result is not rechecked until the TTL expires.
func (w *featureStoreWrapper) Initialized() bool {
	w.initLock.RLock()
	previousValue := w.inited
	w.initLock.RUnlock()
	if previousValue {
		return true
	}

	if w.cache != nil {
		if _, found := w.cache.Get(initCheckedKey); found {
			return false
		}
	}

	newValue := w.core.InitializedInternal()
	if newValue {
		w.initLock.Lock()
		defer w.initLock.Unlock()
		w.inited = true
	} else if w.cache != nil {
		w.cache.Set(initCheckedKey, "", cache.DefaultExpiration)
	}
	return newValue
}

func (w *featureStoreWrapper) hasCacheWithInfiniteTTL() bool {
	return w.cache != nil && w.core.GetCacheTTL() < 0
}
