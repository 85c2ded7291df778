package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
	"mailengine/internal/llm"
)

func registerModelRoutes(g *gin.RouterGroup, deps *Deps) {
	g.GET("/get_available_ai_models", getAvailableAIModels(deps))
	g.GET("/get_downloaded_models", getDownloadedModels(deps))
	g.GET("/check_model_status", checkModelStatus(deps))
	g.POST("/download_model", downloadModel(deps))
	g.POST("/activate_model", activateModel(deps))
	g.POST("/delete_model", deleteModel(deps))
}

func getAvailableAIModels(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Models.ListAvailable())
	}
}

func getDownloadedModels(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		models, err := deps.Models.ListDownloaded()
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, models)
	}
}

func checkModelStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		downloaded, _ := deps.Models.ListDownloaded()
		c.JSON(http.StatusOK, gin.H{
			"ready":      deps.Runtime.IsReady(),
			"downloaded": downloaded,
		})
	}
}

type modelIDRequest struct {
	ID string `json:"id" binding:"required"`
}

// downloadModel streams a curated model's weights to disk in the
// background; progress is observed over model:progress/complete/error on
// the event bus, matching ModelManager.Download's own event contract.
func downloadModel(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req modelIDRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid download_model body: %v", err))
			return
		}
		go func(id string) {
			_ = deps.Models.Download(id)
		}(req.ID)
		c.JSON(http.StatusAccepted, gin.H{"started": true, "id": req.ID})
	}
}

func activateModel(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req modelIDRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid activate_model body: %v", err))
			return
		}
		var desc llm.ModelDescriptor
		found := false
		for _, d := range deps.Models.ListAvailable() {
			if d.ID == req.ID {
				desc, found = d, true
				break
			}
		}
		if !found {
			respondErr(c, apperr.Wrap(apperr.ErrNotFound, "unknown model %s", req.ID))
			return
		}
		deps.Runtime.Activate(desc)
		deps.Models.SetActive(desc.ID)
		c.JSON(http.StatusOK, gin.H{"active": desc.ID})
	}
}

func deleteModel(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req modelIDRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid delete_model body: %v", err))
			return
		}
		if err := deps.Models.Delete(req.ID); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": req.ID})
	}
}
