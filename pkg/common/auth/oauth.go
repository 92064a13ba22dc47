package auth

import (
	"context"
	"net/http"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c ClientCredentials) Enabled() bool {
	return c.TokenURL != "" && c.ClientID != ""
}

// ServiceClient wraps base so that every outbound request carries a bearer
// token obtained with the client-credentials grant. Without credentials base
// is returned unchanged.
func ServiceClient(ctx context.Context, base *http.Client, creds ClientCredentials) *http.Client {
	if !creds.Enabled() {
		return base
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cfg.Client(tokenCtx)
	client.Timeout = base.Timeout

	logger.Log.WithFields(map[string]interface{}{
		"token_url": creds.TokenURL,
		"client_id": creds.ClientID,
	}).Debug("Using client-credentials transport")

	return client
}
