package eav

import (
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const typeIndexKey = "\x00types"

// schemaCache — read-through кэш эффективных атрибутов и индекса типов.
// Единственное состояние движка в памяти. Привязан к версии каталога из
// schema_version: сессия, увидевшая более новую версию, сбрасывает кэш целиком
// (так видны изменения других процессов); сессия со старой версией кэшем не
// пользуется. Запись, прочитанная до сброса (gen изменился), в кэш не попадает.
type schemaCache struct {
	lru *lru.Cache

	mu      sync.Mutex
	version int64
	gen     uint64
}

func newSchemaCache(size int) *schemaCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil
	}
	return &schemaCache{lru: c}
}

// observe сверяет версию каталога, прочитанную сессией, с версией кэша.
// ok == false — сессия видит устаревший каталог и работает мимо кэша.
func (c *schemaCache) observe(version int64) (gen uint64, ok bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case version > c.version:
		c.version = version
		c.reset()
	case version < c.version:
		return 0, false
	}
	return c.gen, true
}

// purge — после коммита собственного схемного изменения с версией version.
func (c *schemaCache) purge(version int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.version {
		c.version = version
	}
	c.reset()
}

func (c *schemaCache) reset() {
	c.gen++
	c.lru.Purge()
}

func (c *schemaCache) attributes(typeID string) ([]*Attribute, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(typeID)
	if !ok {
		return nil, false
	}
	return v.([]*Attribute), true
}

func (c *schemaCache) putAttributes(gen uint64, typeID string, attrs []*Attribute) {
	c.put(gen, typeID, attrs)
}

func (c *schemaCache) index() (typeIndex, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(typeIndexKey)
	if !ok {
		return nil, false
	}
	return v.(typeIndex), true
}

func (c *schemaCache) putIndex(gen uint64, ix typeIndex) {
	c.put(gen, typeIndexKey, ix)
}

func (c *schemaCache) put(gen uint64, key string, v any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.lru.Add(key, v)
	}
}

// regexCache — скомпилированные validation_rules.pattern.
type regexCache struct {
	lru *lru.Cache
}

func newPatternCache() *regexCache {
	c, _ := lru.New(128)
	return &regexCache{lru: c}
}

func (c *regexCache) get(p string) (*regexp.Regexp, error) {
	if v, ok := c.lru.Get(p); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	c.lru.Add(p, re)
	return re, nil
}
