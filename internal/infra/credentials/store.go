package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"storyjobs/internal/infra"
	"storyjobs/internal/sqlinline"
)

// Provider names under which run endpoint tokens are stored.
const (
	ProviderOutline        = "outline"
	ProviderStoryboardText = "storyboard_text"
	ProviderScriptBody     = "script_body"
	ProviderVideo          = "video"
	ProviderImage          = "image"
)

// Store reads and writes provider tokens kept in integration_tokens. It backs
// endpoints whose token is not set in the environment.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider, replacing any previous value.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	provider = strings.TrimSpace(provider)
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New("token is required")
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// Fill sets ep.Token from the store when the environment left it empty. A
// lookup failure leaves the endpoint unchanged; the job will then fail with a
// configuration error.
func (s *Store) Fill(ctx context.Context, provider string, ep *infra.ProviderEndpoint) error {
	if ep == nil || ep.Token != "" {
		return nil
	}
	token, err := s.Token(ctx, provider)
	if err != nil {
		return err
	}
	ep.Token = token
	return nil
}
