// Command engine is the composition root: it wires every component (C1-C10)
// together and serves the command surface, following main.go's
// load-config/open-storage/build-usecases/start-server ordering.
package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mailengine/internal/api"
	"mailengine/internal/apperr"
	"mailengine/internal/config"
	"mailengine/internal/credential"
	"mailengine/internal/embedder"
	"mailengine/internal/enrichment"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/mail"
	"mailengine/internal/metadatadb"
	"mailengine/internal/paths"
	"mailengine/internal/retrieval"
	"mailengine/internal/vectordb"
)

func main() {
	cfg := config.Load()

	layout, err := paths.Resolve(cfg.DataDir)
	if err != nil {
		log.Fatal("Failed to resolve application data directory:", err)
	}

	meta, err := metadatadb.Open(layout.MetadataDBFile)
	if err != nil {
		log.Fatal("Failed to open metadata db:", err)
	}
	vectors, err := vectordb.Open(layout.VectorDBFile)
	if err != nil {
		log.Fatal("Failed to open vector db:", err)
	}

	bus := eventbus.New()

	oauthRefresher := googleOAuthRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret)
	cred, err := credential.Open(layout, cfg.OAuthRefreshMargin, oauthRefresher)
	if err != nil {
		log.Fatal("Failed to open credential store:", err)
	}

	transports := transportFactory(meta, cred, cfg)

	runtime := llm.NewRuntime(cfg.OllamaBaseURL, bus)
	models := llm.NewModelManager(layout.ModelsDir, bus)
	if desc, ok := models.FindAnyDownloaded(); ok {
		runtime.Activate(desc)
		models.SetActive(desc.ID)
		log.Printf("Activated previously downloaded model %s", desc.ID)
	}

	embed := embedder.New(cfg.OllamaBaseURL, cfg.EmbedModel)
	if err := embed.Probe(context.Background()); err != nil {
		log.Printf("Warning: embedder probe failed, semantic search will error until Ollama is reachable: %v", err)
	}

	pipeline := enrichment.New(meta, vectors, runtime, embed, bus, transports)
	pipeline.OnNewMail(bus)

	idle := mail.NewIdleSupervisor(bus)
	startIdleForActiveAccounts(idle, meta, cred, cfg)

	layer := retrieval.New(meta, vectors, embed, runtime)

	deps := &api.Deps{
		Meta: meta, Vectors: vectors, Cred: cred, Bus: bus,
		Pipeline: pipeline, Retrieval: layer, Runtime: runtime, Models: models, Embed: embed,
		Transports: transports,
	}
	router := api.New(deps)

	log.Printf("Engine listening on :%s, data dir %s", cfg.Port, layout.Root)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// googleOAuthRefresher exchanges a stored refresh token for a fresh access
// token via Google's token endpoint, the counterpart to the
// notifyTokenSource wrapper GmailTransport uses on every request; the
// credential store needs the standalone version since a refresh can be due
// before any transport has been constructed for the account.
func googleOAuthRefresher(clientID, clientSecret string) credential.Refresher {
	return func(accountID, refreshToken string) (string, time.Time, error) {
		cfg := &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: google.Endpoint}
		token, err := cfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", time.Time{}, apperr.Wrap(apperr.ErrCredentialExpired, "refreshing google oauth token for %s", accountID)
		}
		return token.AccessToken, token.Expiry, nil
	}
}

// transportFactory builds a fresh Transport for an account on every call,
// reading its provider row from C3 and its secret(s) from C1. An IMAP
// transport dials and logs in as it is built; a Gmail transport holds no
// connection. Building on demand avoids caching invalidation when
// credentials rotate.
func transportFactory(meta *metadatadb.Store, cred *credential.Store, cfg *config.Config) func(accountID string) (mail.Transport, error) {
	return func(accountID string) (mail.Transport, error) {
		account, err := meta.GetAccount(accountID)
		if err != nil {
			return nil, err
		}

		switch account.Provider {
		case "gmail":
			access, err := cred.Get(accountID, credential.KindOAuthAccess)
			if err != nil {
				return nil, err
			}
			refresh, _ := cred.Get(accountID, credential.KindOAuthRefresh)
			onSaved := func(newAccess string, expiry time.Time) {
				_ = cred.Put(accountID, credential.KindOAuthAccess, newAccess, expiry)
			}
			return mail.NewGmailTransport(accountID, mail.GmailOAuthConfig{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret}, access, refresh, onSaved), nil
		default:
			creds, err := imapCredentials(cred, accountID, account.AuthType)
			if err != nil {
				return nil, err
			}
			t := mail.NewIMAPTransport(accountID, account.IMAPHost, account.IMAPPort, account.SMTPHost, account.SMTPPort, creds)
			if err := t.Reconnect(); err != nil {
				return nil, err
			}
			return t, nil
		}
	}
}

func imapCredentials(cred *credential.Store, accountID, authType string) (mail.IMAPCredentials, error) {
	if authType == "oauth" {
		access, err := cred.Get(accountID, credential.KindOAuthAccess)
		if err != nil {
			return mail.IMAPCredentials{}, err
		}
		return mail.IMAPCredentials{Username: accountID, AccessToken: access}, nil
	}
	password, err := cred.Get(accountID, credential.KindAppPassword)
	if err != nil {
		return mail.IMAPCredentials{}, err
	}
	return mail.IMAPCredentials{Username: accountID, Password: password}, nil
}

// startIdleForActiveAccounts opens an IDLE loop per active IMAP account,
// following the per-account goroutine fan-out SPEC_FULL.md §4.2 describes.
// Gmail accounts are skipped: GmailTransport does not implement IdleCapable.
func startIdleForActiveAccounts(idle *mail.IdleSupervisor, meta *metadatadb.Store, cred *credential.Store, cfg *config.Config) {
	accounts, err := meta.ListAccounts()
	if err != nil {
		log.Printf("Warning: could not list accounts for IDLE startup: %v", err)
		return
	}
	for _, account := range accounts {
		if !account.IsActive || account.Provider == "gmail" {
			continue
		}
		acct := account
		idle.StartIdle(acct.ID, "INBOX", func() (mail.IdleCapable, error) {
			creds, err := imapCredentials(cred, acct.ID, acct.AuthType)
			if err != nil {
				return nil, err
			}
			t := mail.NewIMAPTransport(acct.ID, acct.IMAPHost, acct.IMAPPort, acct.SMTPHost, acct.SMTPPort, creds)
			if err := t.Reconnect(); err != nil {
				return nil, err
			}
			return t, nil
		})
	}
	log.Printf("Started IDLE supervisors for %d accounts", fmtIdleCount(accounts))
}

func fmtIdleCount(accounts []metadatadb.Account) int {
	n := 0
	for _, a := range accounts {
		if a.IsActive && a.Provider != "gmail" {
			n++
		}
	}
	return n
}
