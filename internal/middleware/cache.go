package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const responseMetaKey = "response_meta"

// WithResponseMeta seeds a metadata map on the request context and stamps the
// total processing time after the handler chain runs. Handlers serving cached
// reads add their own entries through SetCacheHit.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
		meta := meta(c)
		if _, ok := meta["processing_time_ms"]; !ok {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit records whether the response was served from cache. The public
// status endpoint is polled aggressively, so the flag shows up in every
// envelope's meta for anyone debugging cache behaviour.
func SetCacheHit(c *gin.Context, hit bool) {
	meta(c)["cache_hit"] = hit
}

// ExtractMeta returns the metadata map stored on the context, or nil when the
// middleware is not installed.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(responseMetaKey); ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func meta(c *gin.Context) map[string]interface{} {
	if m := ExtractMeta(c); m != nil {
		return m
	}
	m := map[string]interface{}{}
	if c != nil {
		c.Set(responseMetaKey, m)
	}
	return m
}
