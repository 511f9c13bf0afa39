package memory

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// CursorRepository parks a disconnected subscriber's last-delivered event id
// for the reconnect grace period. After the TTL lapses the entry is purged and
// a late reconnect must fall back to REST snapshot polling.
type CursorRepository struct {
	cache *cache.Cache
}

func NewCursorRepository(gracePeriod time.Duration) *CursorRepository {
	c := cache.New(gracePeriod, gracePeriod/2)
	return &CursorRepository{
		cache: c,
	}
}

func key(sessionID, channel, clientID string) string {
	return fmt.Sprintf("%s:%s:%s", sessionID, channel, clientID)
}

func (r *CursorRepository) Park(sessionID, channel, clientID string, lastEventID uint64) {
	r.cache.Set(key(sessionID, channel, clientID), lastEventID, cache.DefaultExpiration)
}

func (r *CursorRepository) Resume(sessionID, channel, clientID string) (uint64, bool) {
	k := key(sessionID, channel, clientID)
	if x, found := r.cache.Get(k); found {
		r.cache.Delete(k)
		return x.(uint64), true
	}
	return 0, false
}
