// Package api is the command surface (C10): every stable command name in
// SPEC_FULL.md §6 exposed as POST/GET /api/<command>, plus an SSE bridge
// onto the event bus. Route grouping follows cmd/api/router.go's
// r.Group("/api") + per-resource sub-group style; the sentinel-to-status
// mapping helper (respondErr/statusFor in errors.go, called by each handler)
// generalizes the check/JSON/Abort idiom in
// internal/auth/delivery/middleware.go from "is this bearer token valid"
// to "which HTTP status does this apperr sentinel mean".
package api

import (
	"sync"

	"github.com/gin-gonic/gin"

	"mailengine/internal/credential"
	"mailengine/internal/embedder"
	"mailengine/internal/enrichment"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/mail"
	"mailengine/internal/metadatadb"
	"mailengine/internal/retrieval"
	"mailengine/internal/vectordb"
)

// Deps bundles every component the command surface dispatches into. One
// instance is built in cmd/engine/main.go's composition root and handed to
// New.
type Deps struct {
	Meta       *metadatadb.Store
	Vectors    *vectordb.Store
	Cred       *credential.Store
	Bus        *eventbus.Bus
	Pipeline   *enrichment.Pipeline
	Retrieval  *retrieval.Layer
	Runtime    *llm.Runtime
	Models     *llm.ModelManager
	Embed      *embedder.Embedder
	Transports func(accountID string) (mail.Transport, error)

	mu            sync.Mutex
	activeAccount string
}

func (d *Deps) setActiveAccount(id string) {
	d.mu.Lock()
	d.activeAccount = id
	d.mu.Unlock()
}

func (d *Deps) getActiveAccount() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeAccount
}

// New builds the gin engine exposing every command in SPEC_FULL.md §6.
func New(deps *Deps) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	root := r.Group("/api")
	root.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	root.GET("/events", sseHandler(deps.Bus))

	accounts := root.Group("")
	registerAccountRoutes(accounts, deps)

	msgs := root.Group("")
	registerMailRoutes(msgs, deps)

	inbox := root.Group("")
	registerInboxRoutes(inbox, deps)

	chat := root.Group("")
	registerChatRoutes(chat, deps)

	models := root.Group("")
	registerModelRoutes(models, deps)

	return r
}
