package ldclient

import (
	"container/list"
)

// A bounded set of values tracked in least-recently-used order, used by the event processor
// to deduplicate user keys. It is not thread-safe; the event processor only touches it from
// its dispatcher goroutine.
type lruCache struct {
	values   map[interface{}]*list.Element
	lruList  *list.List
	capacity int
}

func newLruCache(capacity int) lruCache {
	return lruCache{
		values:   make(map[interface{}]*list.Element),
		lruList:  list.New(),
		capacity: capacity,
	}
}

func (c *lruCache) clear() {
	c.values = make(map[interface{}]*list.Element)
	c.lruList.Init()
}

// add returns true if the value was already in the cache. Either way, the value becomes the
// most recently used, possibly evicting the least recently used value.
func (c *lruCache) add(value interface{}) bool {
	if c.capacity == 0 {
		return false
	}
	if e, ok := c.values[value]; ok {
		c.lruList.MoveToFront(e)
		return true
	}
	for len(c.values) >= c.capacity {
		oldest := c.lruList.Back()
		delete(c.values, oldest.Value)
		c.lruList.Remove(oldest)
	}
	e := c.lruList.PushFront(value)
	c.values[value] = e
	return false
}
