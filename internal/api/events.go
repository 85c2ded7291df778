package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"mailengine/internal/eventbus"
)

// sseHandler subscribes to every topic listed in eventbus and streams each
// as a server-sent event, replacing the mail app backend's per-user
// sse.Manager.ServeHTTP call with a single process-wide stream since this
// engine has no multi-user routing to do.
func sseHandler(bus *eventbus.Bus) gin.HandlerFunc {
	topics := []string{
		eventbus.TopicMailNew,
		eventbus.TopicIndexingStarted, eventbus.TopicIndexingProgress, eventbus.TopicIndexingComplete, eventbus.TopicIndexingError,
		eventbus.TopicEmbeddingStarted, eventbus.TopicEmbeddingProgress, eventbus.TopicEmbeddingComplete, eventbus.TopicEmbeddingError,
		eventbus.TopicModelProgress, eventbus.TopicModelComplete, eventbus.TopicModelError,
		eventbus.TopicAIToken,
	}

	return func(c *gin.Context) {
		merged := make(chan eventbus.Event, 256)
		subs := make([]chan eventbus.Event, len(topics))
		for i, topic := range topics {
			ch := bus.Subscribe(topic)
			subs[i] = ch
			go func(ch chan eventbus.Event) {
				for ev := range ch {
					select {
					case merged <- ev:
					default:
					}
				}
			}(ch)
		}
		defer func() {
			for i, topic := range topics {
				bus.Unsubscribe(topic, subs[i])
			}
		}()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-merged:
				if !ok {
					return false
				}
				c.SSEvent(ev.Topic, ev.Payload)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
