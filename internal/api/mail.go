package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
	"mailengine/internal/mail"
)

func registerMailRoutes(g *gin.RouterGroup, deps *Deps) {
	g.GET("/fetch_emails", fetchEmails(deps))
	g.GET("/get_email", getEmail(deps))
	g.POST("/send_email", sendEmail(deps))
	g.POST("/mark_read", markRead(deps))
	g.POST("/star", star(deps))
	g.POST("/archive", archive(deps))
	g.POST("/trash", trash(deps))
}

func transportFor(deps *Deps, c *gin.Context) (mail.Transport, string, bool) {
	accountID := c.Query("account_id")
	if accountID == "" {
		accountID = deps.getActiveAccount()
	}
	if accountID == "" {
		respondErr(c, apperr.Wrap(apperr.ErrParse, "account_id required and no active account set"))
		return nil, "", false
	}
	transport, err := deps.Transports(accountID)
	if err != nil {
		respondErr(c, err)
		return nil, "", false
	}
	return transport, accountID, true
}

// fetchEmails lists headers for a folder, the C2 operation behind
// fetch_emails; it does not touch C3, matching list-only semantics.
func fetchEmails(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		folder := c.DefaultQuery("folder", "INBOX")
		max := queryInt(c, "max", 50)
		sinceUID := uint32(queryInt(c, "since_uid", 0))

		headers, err := transport.FetchHeaders(folder, sinceUID, max)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, headers)
	}
}

func getEmail(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		folder := c.DefaultQuery("folder", "INBOX")
		uid := uint32(queryInt(c, "uid", 0))
		if uid == 0 {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "uid required"))
			return
		}
		full, err := transport.FetchFull(folder, uid)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, full)
	}
}

func sendEmail(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		var msg mail.OutgoingMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid send_email body: %v", err))
			return
		}
		if err := transport.Send(msg); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sent": true})
	}
}

type flagRequest struct {
	Folder string `json:"folder" binding:"required"`
	UID    uint32 `json:"uid" binding:"required"`
	Value  bool   `json:"value"`
}

func markRead(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		var req flagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid mark_read body: %v", err))
			return
		}
		var err error
		if req.Value {
			err = transport.SetFlags(req.Folder, req.UID, []mail.Flag{mail.FlagSeen}, nil)
		} else {
			err = transport.SetFlags(req.Folder, req.UID, nil, []mail.Flag{mail.FlagSeen})
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func star(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		var req flagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid star body: %v", err))
			return
		}
		var err error
		if req.Value {
			err = transport.SetFlags(req.Folder, req.UID, []mail.Flag{mail.FlagFlagged}, nil)
		} else {
			err = transport.SetFlags(req.Folder, req.UID, nil, []mail.Flag{mail.FlagFlagged})
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type moveRequest struct {
	Folder   string `json:"folder" binding:"required"`
	UID      uint32 `json:"uid" binding:"required"`
	MessageID string `json:"message_id"`
}

func archive(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, _, ok := transportFor(deps, c)
		if !ok {
			return
		}
		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid archive body: %v", err))
			return
		}
		if err := transport.Move(req.Folder, req.UID, "Archive"); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// trash moves the message server-side and, if it was already indexed,
// deletes its metadata row (cascading to the insight per SPEC_FULL.md §8)
// and its embedding so a trashed message never lingers in local search.
func trash(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, accountID, ok := transportFor(deps, c)
		if !ok {
			return
		}
		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid trash body: %v", err))
			return
		}
		if err := transport.Move(req.Folder, req.UID, "Trash"); err != nil {
			respondErr(c, err)
			return
		}
		id := req.MessageID
		if id == "" {
			id = mail.ID(accountID, req.Folder, req.UID)
		}
		_ = deps.Meta.DeleteMessage(id)
		_ = deps.Vectors.Delete(id)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
