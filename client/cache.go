package client

import (
	"sync"

	"github.com/rutishh0/testingAegis/proto/snowflake"
)

// Deduper remembers message ids already handed to the caller, so a
// message seen both live and through history is shown once.
type Deduper struct {
	m    sync.Mutex
	seen map[snowflake.Snowflake]struct{}
}

func NewDeduper() *Deduper { return &Deduper{seen: map[snowflake.Snowflake]struct{}{}} }

// Observe records id and reports whether it is new.
func (d *Deduper) Observe(id snowflake.Snowflake) bool {
	d.m.Lock()
	defer d.m.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

func (d *Deduper) Reset() {
	d.m.Lock()
	d.seen = map[snowflake.Snowflake]struct{}{}
	d.m.Unlock()
}

// SentCache holds the plaintext of messages sent from this client by id.
// It lets a sender redisplay its own messages without a sender copy.
type SentCache struct {
	m     sync.Mutex
	texts map[snowflake.Snowflake]string
}

func NewSentCache() *SentCache { return &SentCache{texts: map[snowflake.Snowflake]string{}} }

func (c *SentCache) Put(id snowflake.Snowflake, plaintext string) {
	c.m.Lock()
	c.texts[id] = plaintext
	c.m.Unlock()
}

func (c *SentCache) Get(id snowflake.Snowflake) (string, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	text, ok := c.texts[id]
	return text, ok
}

func (c *SentCache) Clear() {
	c.m.Lock()
	c.texts = map[snowflake.Snowflake]string{}
	c.m.Unlock()
}
