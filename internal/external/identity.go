package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/httputil"
	"github.com/kjannette/stockwatch-backend/internal/models"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

var (
	ErrEmptyCredential = errors.New("empty credential")
	ErrWrongAudience   = errors.New("credential issued for another audience")
)

// GoogleIdentity verifies Google ID tokens against the tokeninfo endpoint.
// Token validation itself is delegated to the provider.
type GoogleIdentity struct {
	tokenInfoURL string
	audience     string
	httpClient   *http.Client
}

func NewGoogleIdentity(tokenInfoURL, audience string) *GoogleIdentity {
	if tokenInfoURL == "" {
		tokenInfoURL = googleTokenInfoURL
	}
	return &GoogleIdentity{
		tokenInfoURL: tokenInfoURL,
		audience:     audience,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenInfo struct {
	Sub     string `json:"sub"`
	Aud     string `json:"aud"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (g *GoogleIdentity) Verify(ctx context.Context, credential string) (*models.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrEmptyCredential
	}

	q := url.Values{}
	q.Set("id_token", credential)

	var info tokenInfo
	if err := httputil.GetJSON(ctx, g.httpClient, httputil.NoRetry, g.tokenInfoURL+"?"+q.Encode(), &info); err != nil {
		return nil, fmt.Errorf("tokeninfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("tokeninfo: missing subject")
	}
	if g.audience != "" && info.Aud != g.audience {
		return nil, ErrWrongAudience
	}

	return &models.Identity{
		UID:         info.Sub,
		DisplayName: info.Name,
		Email:       info.Email,
		PhotoURL:    info.Picture,
	}, nil
}
