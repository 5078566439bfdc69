// Package github exchanges a personal access token for a single-use runner
// registration token.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ghrunner/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	acceptHeader = "application/vnd.github+json"
	apiVersion   = "2022-11-28"
)

// APIError is a non-201 answer from the registration-token endpoint. Status
// and body are kept verbatim.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %d %s", e.StatusCode, e.Body)
}

// RegistrationToken is the short-lived credential a runner registers with.
type RegistrationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenBroker requests registration tokens. Every call is attempted exactly
// once: tokens are single-use, so retrying could issue a second one.
type TokenBroker struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewTokenBroker creates a broker against baseURL (https://api.github.com)
// whose requests are bounded by timeout.
func NewTokenBroker(baseURL string, timeout time.Duration) *TokenBroker {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = timeout
	client.CheckRetry = noRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{logging.Logger().Sugar()}

	return &TokenBroker{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// RegistrationToken requests a runner registration token for repo ("org/repo")
// authenticated with pat.
func (b *TokenBroker) RegistrationToken(ctx context.Context, repo, pat string) (*RegistrationToken, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/runners/registration-token", b.baseURL, repo)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pat)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	logging.Logger().Debug("Requesting runner registration token",
		zap.String("repository", repo))

	resp, err := b.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("failed to request registration token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration token response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		logging.Logger().Warn("GitHub rejected registration token request",
			zap.String("repository", repo),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", logging.Truncate(string(body))))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token RegistrationToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse registration token response: %w", err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("registration token response has no token")
	}

	logging.Logger().Info("Runner registration token issued",
		zap.String("repository", repo),
		zap.String("token", logging.Redact(token.Token)),
		zap.Time("expires_at", token.ExpiresAt))

	return &token, nil
}

func noRetry(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
