package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
	"mailengine/internal/credential"
	"mailengine/internal/metadatadb"
)

func registerAccountRoutes(g *gin.RouterGroup, deps *Deps) {
	g.POST("/add_account", addAccount(deps))
	g.POST("/remove_account", removeAccount(deps))
	g.POST("/sign_in", signIn(deps))
	g.POST("/sign_out", signOut(deps))
	g.GET("/list_accounts", listAccounts(deps))
	g.POST("/set_active_account", setActiveAccount(deps))
}

type addAccountRequest struct {
	ID           string `json:"id" binding:"required"`
	Email        string `json:"email" binding:"required"`
	DisplayName  string `json:"display_name"`
	Provider     string `json:"provider" binding:"required"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	AuthType     string `json:"auth_type" binding:"required"`
	AppPassword  string `json:"app_password"`
	OAuthAccess  string `json:"oauth_access"`
	OAuthRefresh string `json:"oauth_refresh"`
	OAuthExpiry  int64  `json:"oauth_expiry_unix"`
}

// addAccount stores the account row and its initial secret(s), matching the
// two-step "persist metadata, then persist credential" flow the native
// EmailProvider's add-account command performs in one call.
func addAccount(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid add_account body: %v", err))
			return
		}

		account := &metadatadb.Account{
			ID: req.ID, Email: req.Email, DisplayName: req.DisplayName, Provider: req.Provider,
			IMAPHost: req.IMAPHost, IMAPPort: req.IMAPPort, SMTPHost: req.SMTPHost, SMTPPort: req.SMTPPort,
			AuthType: req.AuthType, IsActive: true,
		}
		if err := deps.Meta.UpsertAccount(account); err != nil {
			respondErr(c, err)
			return
		}

		switch req.AuthType {
		case "app_password":
			if err := deps.Cred.Put(req.ID, credential.KindAppPassword, req.AppPassword, time.Time{}); err != nil {
				respondErr(c, err)
				return
			}
		case "oauth":
			expiry := time.Unix(req.OAuthExpiry, 0)
			if err := deps.Cred.Put(req.ID, credential.KindOAuthAccess, req.OAuthAccess, expiry); err != nil {
				respondErr(c, err)
				return
			}
			if err := deps.Cred.Put(req.ID, credential.KindOAuthRefresh, req.OAuthRefresh, time.Time{}); err != nil {
				respondErr(c, err)
				return
			}
		}

		c.JSON(http.StatusOK, account)
	}
}

func removeAccount(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("account_id")
		if id == "" {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "account_id required"))
			return
		}
		for _, kind := range []credential.Kind{credential.KindAppPassword, credential.KindOAuthAccess, credential.KindOAuthRefresh} {
			_ = deps.Cred.Delete(id, kind)
		}
		if err := deps.Meta.RemoveAccount(id); err != nil {
			respondErr(c, err)
			return
		}
		if deps.getActiveAccount() == id {
			deps.setActiveAccount("")
		}
		c.JSON(http.StatusOK, gin.H{"removed": id})
	}
}

// signIn verifies a stored credential is retrievable (refreshing it if the
// OAuth expiry margin has been crossed) and marks the account active,
// matching sign_in's "prove we can still talk to this mailbox" contract.
func signIn(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid sign_in body: %v", err))
			return
		}
		account, err := deps.Meta.GetAccount(req.AccountID)
		if err != nil {
			respondErr(c, err)
			return
		}
		kind := credential.KindAppPassword
		if account.AuthType == "oauth" {
			kind = credential.KindOAuthAccess
		}
		if _, err := deps.Cred.Get(req.AccountID, kind); err != nil {
			respondErr(c, err)
			return
		}
		deps.setActiveAccount(req.AccountID)
		c.JSON(http.StatusOK, account)
	}
}

func signOut(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid sign_out body: %v", err))
			return
		}
		for _, kind := range []credential.Kind{credential.KindAppPassword, credential.KindOAuthAccess, credential.KindOAuthRefresh} {
			_ = deps.Cred.Delete(req.AccountID, kind)
		}
		if deps.getActiveAccount() == req.AccountID {
			deps.setActiveAccount("")
		}
		c.JSON(http.StatusOK, gin.H{"signed_out": req.AccountID})
	}
}

func listAccounts(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := deps.Meta.ListAccounts()
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, accounts)
	}
}

func setActiveAccount(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Wrap(apperr.ErrParse, "invalid set_active_account body: %v", err))
			return
		}
		if _, err := deps.Meta.GetAccount(req.AccountID); err != nil {
			respondErr(c, err)
			return
		}
		deps.setActiveAccount(req.AccountID)
		c.JSON(http.StatusOK, gin.H{"active_account": req.AccountID})
	}
}
