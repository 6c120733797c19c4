package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const responseMetaKey = "treasury.response_meta"

// responseMeta is the envelope meta of one request.
type responseMeta struct {
	start  time.Time
	fields map[string]interface{}
}

// WithResponseMeta starts the request clock. Handlers that return meta read it with ResponseMeta.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &responseMeta{start: time.Now(), fields: map[string]interface{}{}})
		c.Next()
	}
}

// SetCacheHit records whether a compliance read was served from the cache.
func SetCacheHit(c *gin.Context, hit bool) {
	if m := metaOf(c); m != nil {
		m.fields["cache_hit"] = hit
	}
}

// ResponseMeta snapshots the meta for the response about to be written, including the time spent
// so far.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	m := metaOf(c)
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m.fields)+1)
	for k, v := range m.fields {
		out[k] = v
	}
	out["processing_time_ms"] = time.Since(m.start).Milliseconds()
	return out
}

// metaOf returns the request's meta, creating it when WithResponseMeta is not mounted.
func metaOf(c *gin.Context) *responseMeta {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(responseMetaKey); ok {
		if m, ok := v.(*responseMeta); ok {
			return m
		}
	}
	m := &responseMeta{start: time.Now(), fields: map[string]interface{}{}}
	c.Set(responseMetaKey, m)
	return m
}
