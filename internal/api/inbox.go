package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
	"mailengine/internal/metadatadb"
)

func registerInboxRoutes(g *gin.RouterGroup, deps *Deps) {
	g.POST("/init_database", initDatabase(deps))
	g.GET("/get_smart_inbox", getSmartInbox(deps))
	g.GET("/get_emails_by_category", getEmailsByCategory(deps))
	g.GET("/search_smart_emails", searchSmartEmails(deps))
	g.GET("/get_indexing_status", getIndexingStatus(deps))
	g.POST("/reset_indexing_status", resetIndexingStatus(deps))
	g.POST("/start_email_indexing", startEmailIndexing(deps))
}

// initDatabase is a no-op beyond confirming the store is reachable: the
// schema is already migrated by metadatadb.Open at process start, but the
// command stays in the surface since the shell calls it unconditionally on
// launch the way the original init_database command does.
func initDatabase(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := deps.Meta.GetIndexingState(); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"initialized": true})
	}
}

func getSmartInbox(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("query")
		limit := queryInt(c, "limit", 50)
		offset := queryInt(c, "offset", 0)
		results, err := deps.Retrieval.SmartInbox(query, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func getEmailsByCategory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		category := c.Query("category")
		if category == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "category required"))
			return
		}
		limit := queryInt(c, "limit", 50)
		offset := queryInt(c, "offset", 0)
		results, err := deps.Retrieval.ByCategory(category, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func searchSmartEmails(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "query required"))
			return
		}
		limit := queryInt(c, "limit", 50)
		offset := queryInt(c, "offset", 0)
		results, err := deps.Retrieval.KeywordSearch(query, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func getIndexingStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := deps.Meta.GetIndexingState()
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// resetIndexingStatus recovers a stuck is_running=true row, the escape hatch
// SPEC_FULL.md §7's propagation policy requires the shell be able to call.
// It only clears the persisted flag; a pass that is really running keeps
// Pipeline's in-memory running flag set and rewrites the row when it finishes.
func resetIndexingStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Meta.SetIndexingState(&metadatadb.IndexingState{IsIndexing: false}); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}

type startIndexingRequest struct {
	AccountID string `json:"account_id"`
	Folder    string `json:"folder"`
	Max       int    `json:"max"`
}

func startEmailIndexing(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startIndexingRequest
		_ = c.ShouldBindJSON(&req)
		if req.AccountID == "" {
			req.AccountID = deps.getActiveAccount()
		}
		if req.AccountID == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "account_id required and no active account set"))
			return
		}
		if req.Folder == "" {
			req.Folder = "INBOX"
		}
		if req.Max <= 0 {
			req.Max = 100
		}

		if deps.Pipeline.IsIndexing() {
			respondErr(c, apperr.Wrap(apperr.ErrBusy, "indexing already running"))
			return
		}

		go func(accountID, folder string, max int) {
			if err := deps.Pipeline.StartIndexing(context.Background(), accountID, folder, max); err != nil {
				_ = err // surfaced to the shell via indexing:error on the event bus
			}
		}(req.AccountID, req.Folder, req.Max)

		c.JSON(http.StatusAccepted, gin.H{"started": true, "account_id": req.AccountID, "folder": req.Folder})
	}
}
