package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ld "github.com/gor-st/go-server-sdk"
)

type mockCore struct {
	cacheTTL          time.Duration
	data              map[ld.VersionedDataKind]map[string]ld.VersionedData
	fakeError         error
	inited            bool
	initQueriedCount  int
	queriedCount      int
	initedCollections []StoreCollection
}

func newCore(ttl time.Duration) *mockCore {
	return &mockCore{
		cacheTTL: ttl,
		data:     map[ld.VersionedDataKind]map[string]ld.VersionedData{ld.Features: {}, ld.Segments: {}},
	}
}

func (c *mockCore) forceSet(kind ld.VersionedDataKind, item ld.VersionedData) {
	c.data[kind][item.GetKey()] = item
}

func (c *mockCore) forceRemove(kind ld.VersionedDataKind, key string) {
	delete(c.data[kind], key)
}

func (c *mockCore) GetCacheTTL() time.Duration {
	return c.cacheTTL
}

func (c *mockCore) GetInternal(kind ld.VersionedDataKind, key string) (ld.VersionedData, error) {
	c.queriedCount++
	if c.fakeError != nil {
		return nil, c.fakeError
	}
	return c.data[kind][key], nil
}

func (c *mockCore) GetAllInternal(kind ld.VersionedDataKind) (map[string]ld.VersionedData, error) {
	c.queriedCount++
	if c.fakeError != nil {
		return nil, c.fakeError
	}
	return c.data[kind], nil
}

func (c *mockCore) InitInternal(allData map[ld.VersionedDataKind]map[string]ld.VersionedData) error {
	if c.fakeError != nil {
		return c.fakeError
	}
	c.data = allData
	c.inited = true
	return nil
}

func (c *mockCore) InitCollectionsInternal(allData []StoreCollection) error {
	if c.fakeError != nil {
		return c.fakeError
	}
	c.initedCollections = allData
	c.data = map[ld.VersionedDataKind]map[string]ld.VersionedData{}
	for _, coll := range allData {
		itemsMap := make(map[string]ld.VersionedData)
		for _, item := range coll.Items {
			itemsMap[item.GetKey()] = item
		}
		c.data[coll.Kind] = itemsMap
	}
	c.inited = true
	return nil
}

func (c *mockCore) UpsertInternal(kind ld.VersionedDataKind, item ld.VersionedData) (ld.VersionedData, error) {
	if c.fakeError != nil {
		return nil, c.fakeError
	}
	if old, found := c.data[kind][item.GetKey()]; found && old.GetVersion() >= item.GetVersion() {
		return old, nil
	}
	c.data[kind][item.GetKey()] = item
	return item, nil
}

func (c *mockCore) InitializedInternal() bool {
	c.initQueriedCount++
	return c.inited
}

type mockNonAtomicCore struct {
	mockCore
}

func newNonAtomicCore(ttl time.Duration) *mockNonAtomicCore {
	return &mockNonAtomicCore{mockCore{
		cacheTTL: ttl,
		data:     map[ld.VersionedDataKind]map[string]ld.VersionedData{ld.Features: {}, ld.Segments: {}},
	}}
}

func TestFeatureStoreWrapperUncachedGet(t *testing.T) {
	core := newCore(0)
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	core.forceSet(ld.Features, &flag)

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)

	// without a cache every Get hits the core
	_, _ = w.Get(ld.Features, "flag")
	assert.Equal(t, 2, core.queriedCount)
}

func TestFeatureStoreWrapperUncachedGetDeletedItem(t *testing.T) {
	core := newCore(0)
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1, Deleted: true}
	core.forceSet(ld.Features, &flag)

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestFeatureStoreWrapperUncachedGetMissingItem(t *testing.T) {
	core := newCore(0)
	w := NewFeatureStoreWrapper(core)

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestFeatureStoreWrapperUncachedGetErrorIsPropagated(t *testing.T) {
	core := newCore(0)
	core.fakeError = errors.New("sorry")
	w := NewFeatureStoreWrapper(core)

	_, err := w.Get(ld.Features, "flag")
	assert.Equal(t, core.fakeError, err)
}

func TestFeatureStoreWrapperCachedGetUsesValueFromCache(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	core.forceSet(ld.Features, &flag)

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)
	require.Equal(t, 1, core.queriedCount)

	// even if the core data changes, the cached value is returned until the TTL expires
	core.forceRemove(ld.Features, "flag")
	item, err = w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)
	assert.Equal(t, 1, core.queriedCount)
}

func TestFeatureStoreWrapperCachedGetCachesMissingItem(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Nil(t, item)
	require.Equal(t, 1, core.queriedCount)

	// the absence of the item is also cached, so the core is not queried again
	core.forceSet(ld.Features, &ld.FeatureFlag{Key: "flag", Version: 1})
	item, err = w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, 1, core.queriedCount)
}

func TestFeatureStoreWrapperCachedGetDoesNotCacheError(t *testing.T) {
	core := newCore(30 * time.Second)
	core.fakeError = errors.New("sorry")
	w := NewFeatureStoreWrapper(core)

	_, err := w.Get(ld.Features, "flag")
	require.Equal(t, core.fakeError, err)

	core.fakeError = nil
	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	core.forceSet(ld.Features, &flag)
	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)
}

func TestFeatureStoreWrapperUncachedAll(t *testing.T) {
	core := newCore(0)
	w := NewFeatureStoreWrapper(core)

	flag1 := ld.FeatureFlag{Key: "flag1", Version: 1}
	flag2 := ld.FeatureFlag{Key: "flag2", Version: 1, Deleted: true}
	core.forceSet(ld.Features, &flag1)
	core.forceSet(ld.Features, &flag2)

	items, err := w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag1": &flag1}, items)

	_, _ = w.All(ld.Features)
	assert.Equal(t, 2, core.queriedCount)
}

func TestFeatureStoreWrapperCachedAll(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	core.forceSet(ld.Features, &flag)

	items, err := w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag": &flag}, items)
	require.Equal(t, 1, core.queriedCount)

	core.forceRemove(ld.Features, "flag")
	items, err = w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag": &flag}, items)
	assert.Equal(t, 1, core.queriedCount)
}

func TestFeatureStoreWrapperCachedAllIsRefreshedByInit(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	_, err := w.All(ld.Features)
	require.NoError(t, err)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	allData := map[ld.VersionedDataKind]map[string]ld.VersionedData{
		ld.Features: {"flag": &flag},
		ld.Segments: {},
	}
	require.NoError(t, w.Init(allData))

	items, err := w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag": &flag}, items)
}

func TestFeatureStoreWrapperCachedAllIsInvalidatedByUpsert(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	flag1 := ld.FeatureFlag{Key: "flag1", Version: 1}
	core.forceSet(ld.Features, &flag1)
	_, err := w.All(ld.Features)
	require.NoError(t, err)

	flag2 := ld.FeatureFlag{Key: "flag2", Version: 1}
	require.NoError(t, w.Upsert(ld.Features, &flag2))

	items, err := w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag1": &flag1, "flag2": &flag2}, items)
}

func TestFeatureStoreWrapperUpsertUpdatesCacheWithFinalItem(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	newerFlag := ld.FeatureFlag{Key: "flag", Version: 5}
	core.forceSet(ld.Features, &newerFlag)

	// the store keeps its newer version, and that version ends up in the cache
	olderFlag := ld.FeatureFlag{Key: "flag", Version: 1}
	require.NoError(t, w.Upsert(ld.Features, &olderFlag))

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &newerFlag, item)
	assert.Equal(t, 0, core.queriedCount)
}

func TestFeatureStoreWrapperDeleteStoresTombstone(t *testing.T) {
	core := newCore(30 * time.Second)
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	core.forceSet(ld.Features, &flag)

	require.NoError(t, w.Delete(ld.Features, "flag", 2))

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Nil(t, item)

	stored := core.data[ld.Features]["flag"]
	require.NotNil(t, stored)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, 2, stored.GetVersion())
}

func TestFeatureStoreWrapperInitializedIsSticky(t *testing.T) {
	core := newCore(0)
	w := NewFeatureStoreWrapper(core)

	assert.False(t, w.Initialized())

	core.inited = true
	assert.True(t, w.Initialized())

	// once true, the core is not queried again
	core.inited = false
	assert.True(t, w.Initialized())
	assert.Equal(t, 2, core.initQueriedCount)
}

func TestFeatureStoreWrapperInitializedCachesFalseResult(t *testing.T) {
	core := newCore(500 * time.Millisecond)
	w := NewFeatureStoreWrapper(core)

	assert.False(t, w.Initialized())
	assert.False(t, w.Initialized())
	assert.Equal(t, 1, core.initQueriedCount)

	core.inited = true
	time.Sleep(600 * time.Millisecond)
	assert.True(t, w.Initialized())
}

func TestFeatureStoreWrapperInitErrorIsPropagated(t *testing.T) {
	core := newCore(30 * time.Second)
	core.fakeError = errors.New("sorry")
	w := NewFeatureStoreWrapper(core)

	err := w.Init(map[ld.VersionedDataKind]map[string]ld.VersionedData{ld.Features: {}})
	assert.Equal(t, core.fakeError, err)
	assert.False(t, w.Initialized())
}

func TestFeatureStoreWrapperInfiniteTTLCacheIsUpdatedEvenIfCoreInitFails(t *testing.T) {
	core := newCore(-1)
	core.fakeError = errors.New("sorry")
	w := NewFeatureStoreWrapper(core)

	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	allData := map[ld.VersionedDataKind]map[string]ld.VersionedData{
		ld.Features: {"flag": &flag},
		ld.Segments: {},
	}
	require.NoError(t, w.Init(allData))

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)
	assert.True(t, w.Initialized())
}

func TestFeatureStoreWrapperInfiniteTTLCacheIsUpdatedEvenIfCoreUpsertFails(t *testing.T) {
	core := newCore(-1)
	w := NewFeatureStoreWrapper(core)
	require.NoError(t, w.Init(map[ld.VersionedDataKind]map[string]ld.VersionedData{
		ld.Features: {},
		ld.Segments: {},
	}))

	core.fakeError = errors.New("sorry")
	flag := ld.FeatureFlag{Key: "flag", Version: 1}
	require.NoError(t, w.Upsert(ld.Features, &flag))

	item, err := w.Get(ld.Features, "flag")
	require.NoError(t, err)
	assert.Equal(t, &flag, item)

	items, err := w.All(ld.Features)
	require.NoError(t, err)
	assert.Equal(t, map[string]ld.VersionedData{"flag": &flag}, items)
}

func TestNonAtomicFeatureStoreWrapperInitUsesOrderedCollections(t *testing.T) {
	core := newNonAtomicCore(0)
	w := NewNonAtomicFeatureStoreWrapper(core)

	flagA := ld.FeatureFlag{Key: "a", Version: 1, Prerequisites: []ld.Prerequisite{{Key: "b", Variation: 0}}}
	flagB := ld.FeatureFlag{Key: "b", Version: 1}
	segment := ld.Segment{Key: "seg", Version: 1}
	allData := map[ld.VersionedDataKind]map[string]ld.VersionedData{
		ld.Features: {"a": &flagA, "b": &flagB},
		ld.Segments: {"seg": &segment},
	}
	require.NoError(t, w.Init(allData))

	require.Len(t, core.initedCollections, 2)
	assert.Equal(t, ld.Segments, core.initedCollections[0].Kind)
	assert.Equal(t, []ld.VersionedData{&segment}, core.initedCollections[0].Items)
	assert.Equal(t, ld.Features, core.initedCollections[1].Kind)
	assert.Equal(t, []ld.VersionedData{&flagB, &flagA}, core.initedCollections[1].Items)
}
