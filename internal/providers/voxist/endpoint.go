package voxist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"

	"voxstream/internal/domain"
)

const (
	ProductionHost   = "api-asr.voxist.com"
	StagingHost      = "asr-staging-dev.voxist.com"
	DefaultAuthURL   = "https://asr-lvl.voxist.com/oauth/token"
	DefaultSocketURL = "https://asr-lvl.voxist.com/websocket"
	DefaultLanguage  = "fr"
)

// APIKeyResolver builds the api-key authenticated socket URL.
type APIKeyResolver struct {
	APIKey     string
	Language   string
	SampleRate int
	Engine     string
	Staging    bool
	// BaseURL overrides the environment host, e.g. "ws://localhost:8080".
	BaseURL string
}

func (r APIKeyResolver) Resolve(_ context.Context) (domain.StreamEndpoint, error) {
	if strings.TrimSpace(r.APIKey) == "" {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: VOXIST_API_KEY is not configured", domain.ErrConnect)
	}

	streamURL, err := buildStreamURL(r)
	if err != nil {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}
	return domain.StreamEndpoint{
		URL:         streamURL,
		Language:    languageOrDefault(r.Language),
		SampleRate:  sampleRateOrDefault(r.SampleRate),
		Engine:      r.Engine,
		EndOfStream: EOFMessage,
	}, nil
}

// Host returns the environment host the resolver targets.
func (r APIKeyResolver) Host() string {
	if r.Staging {
		return StagingHost
	}
	return ProductionHost
}

func buildStreamURL(r APIKeyResolver) (string, error) {
	base := strings.TrimSpace(r.BaseURL)
	if base == "" {
		base = "wss://" + r.Host()
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	streamURL, err := url.Parse(base + "/ws")
	if err != nil {
		return "", fmt.Errorf("invalid Voxist base URL: %w", err)
	}
	if streamURL.Scheme != "ws" && streamURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Voxist base URL scheme %q", streamURL.Scheme)
	}

	query := streamURL.Query()
	query.Set("api_key", r.APIKey)
	query.Set("lang", languageOrDefault(r.Language))
	query.Set("sample_rate", strconv.Itoa(sampleRateOrDefault(r.SampleRate)))
	if r.Engine != "" {
		query.Set("engine", r.Engine)
	}
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}

// PasswordGrantResolver exchanges account credentials for a socket URL.
type PasswordGrantResolver struct {
	AuthURL    string
	SocketURL  string
	Username   string
	Password   string
	Language   string
	SampleRate int

	Client *http.Client
	Logger zerolog.Logger
	Now    func() time.Time
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type socketResponse struct {
	URL string `json:"url"`
}

func (r PasswordGrantResolver) Resolve(ctx context.Context) (domain.StreamEndpoint, error) {
	if strings.TrimSpace(r.Username) == "" || r.Password == "" {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: VOXIST_USERNAME and VOXIST_PASSWORD are required", domain.ErrConnect)
	}

	token, err := r.fetchToken(ctx)
	if err != nil {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}
	if err := r.checkExpiry(token); err != nil {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}

	socketURL, err := r.fetchSocketURL(ctx, token)
	if err != nil {
		return domain.StreamEndpoint{}, fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}

	lang := languageOrDefault(r.Language)
	rate := sampleRateOrDefault(r.SampleRate)
	return domain.StreamEndpoint{
		URL:            socketURL,
		Language:       lang,
		SampleRate:     rate,
		InitialControl: ConfigMessage{Config: StreamConfig{SampleRate: rate, Lang: lang}},
		EndOfStream:    EOFMessage,
	}, nil
}

func (r PasswordGrantResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (r PasswordGrantResolver) fetchToken(ctx context.Context) (string, error) {
	authURL := r.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	body, err := json.Marshal(tokenRequest{GrantType: "password", Username: r.Username, Password: r.Password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("invalid auth URL: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp tokenResponse
	if err := r.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("token response has no access_token")
	}
	return resp.AccessToken, nil
}

// checkExpiry rejects JWTs whose exp claim has passed. Opaque tokens pass.
func (r PasswordGrantResolver) checkExpiry(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		r.Logger.Debug().Err(err).Msg("access token is not a JWT, skipping expiry check")
		return nil
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if !claims.VerifyExpiresAt(now().Unix(), false) {
		return errors.New("access token is already expired")
	}
	if exp, ok := claims["exp"].(float64); ok {
		r.Logger.Debug().Time("expires_at", time.Unix(int64(exp), 0)).Msg("access token acquired")
	}
	return nil
}

func (r PasswordGrantResolver) fetchSocketURL(ctx context.Context, token string) (string, error) {
	socketURL := r.SocketURL
	if socketURL == "" {
		socketURL = DefaultSocketURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, socketURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid socket URL: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var resp socketResponse
	if err := r.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("socket lookup failed: %w", err)
	}
	if resp.URL == "" {
		return "", errors.New("socket response has no url")
	}
	return resp.URL, nil
}

func (r PasswordGrantResolver) doJSON(req *http.Request, out any) error {
	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %s: %s", resp.Status, truncate(strings.TrimSpace(string(payload)), 200))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}

// RedactURL hides credentials carried in the query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	if query.Has("api_key") {
		query.Set("api_key", "REDACTED")
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func languageOrDefault(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return DefaultLanguage
	}
	return strings.TrimSpace(lang)
}

func sampleRateOrDefault(rate int) int {
	if rate <= 0 {
		return 16000
	}
	return rate
}
