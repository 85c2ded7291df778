package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
)

func registerChatRoutes(g *gin.RouterGroup, deps *Deps) {
	g.POST("/init_rag", initRAG(deps))
	g.GET("/is_rag_ready", isRAGReady(deps))
	g.GET("/get_embedding_status", getEmbeddingStatus(deps))
	g.POST("/embed_all_emails", embedAllEmails(deps))
	g.POST("/clear_embeddings", clearEmbeddings(deps))
	g.GET("/search_emails_semantic", searchEmailsSemantic(deps))
	g.GET("/find_similar_emails", findSimilarEmails(deps))
	g.POST("/chat_query", chatQuery(deps))
	g.POST("/chat_with_context", chatWithContext(deps))
}

// initRAG probes the embedder once so a misconfigured Ollama endpoint is
// caught at setup time rather than on the first search, matching C6's
// startup Probe contract in SPEC_FULL.md §4.6.
func initRAG(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Embed.Probe(c.Request.Context()); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	}
}

func isRAGReady(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := deps.Vectors.Count()
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": count > 0, "embedded_count": count})
	}
}

func getEmbeddingStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := deps.Vectors.GetState()
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func embedAllEmails(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		go func() {
			_ = deps.Pipeline.EmbedAll(context.Background())
		}()
		c.JSON(http.StatusAccepted, gin.H{"started": true})
	}
}

func clearEmbeddings(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Vectors.Clear(); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	}
}

func searchEmailsSemantic(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "query required"))
			return
		}
		k := queryInt(c, "k", 10)
		results, err := deps.Retrieval.SemanticSearch(c.Request.Context(), query, k)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func findSimilarEmails(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		messageID := c.Query("message_id")
		if messageID == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "message_id required"))
			return
		}
		k := queryInt(c, "k", 5)
		results, err := deps.Retrieval.Neighbors(messageID, k)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

type chatRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k"`
}

func chatQuery(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid chat_query body: %v", err))
			return
		}
		k := req.K
		if k <= 0 {
			k = 5
		}
		answer, err := deps.Retrieval.Chat(c.Request.Context(), req.Query, k)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}

// chatWithContext is chat_query with an explicit context window size,
// letting the shell trade recall for latency on demand.
func chatWithContext(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid chat_with_context body: %v", err))
			return
		}
		if req.K <= 0 {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "k required"))
			return
		}
		answer, err := deps.Retrieval.Chat(c.Request.Context(), req.Query, req.K)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}
