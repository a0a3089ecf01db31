package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/m3rciful/walletbot/core/logger"
)

const (
	// DefaultBaseURL is the production wallet API root.
	DefaultBaseURL = "https://front.kcash.ru/api/fo"
	// AuthHeader carries the access token on authorized requests.
	AuthHeader = "authorization-vbtc"

	defaultTimeout = 15 * time.Second
)

// Endpoint paths relative to the base URL.
const (
	PathSignIn         = "/Login/SignIn"
	PathSignUp         = "/Login/SignUpCustomer"
	PathLogout         = "/Login/Logout"
	PathLogoutAll      = "/Login/LogoutFromAllDevices"
	PathEnable2FA      = "/Login/Enable2Fa"
	PathDisable2FA     = "/Login/Disable2Fa"
	PathSetup2FA       = "/Login/Setup2Fa"
	PathChangePassword = "/Login/ChangePassword"
	PathRefreshToken   = "/Login/RefreshToken"
	PathBalances       = "/Account/GetUserWallets"
	PathAccountInfo    = "/Login/GetCurrentCustomer"
)

// Options configures Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the transport; nil uses resty defaults.
	HTTPClient *http.Client
}

// Client talks to the wallet backend. It never touches session state.
type Client struct {
	rc *resty.Client
}

// NewClient builds a Client with JSON handled by goccy/go-json.
func NewClient(opts Options) *Client {
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Client{rc: rc}
}

type call struct {
	method  string
	path    string
	token   string
	refresh bool
	body    any
	query   map[string]string
}

// do executes c and returns the JSON body, or nil for non-JSON success responses.
func (cl *Client) do(ctx context.Context, c call) ([]byte, error) {
	requestID := uuid.NewString()
	req := cl.rc.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if c.token != "" {
		req.SetHeader(AuthHeader, c.token)
	}
	if c.body != nil {
		req.SetBody(c.body)
	}
	if len(c.query) > 0 {
		req.SetQueryParams(c.query)
	}

	start := time.Now()
	resp, err := req.Execute(c.method, c.path)
	attrs := []slog.Attr{
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.String("request_id", requestID),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.Warn(ctx, "wallet.api", "request.failed",
			append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
		return nil, fmt.Errorf("wallet: %s %s: %w", c.method, c.path, err)
	}
	attrs = append(attrs, slog.Int("http_code", resp.StatusCode()))

	body, err := checkResponse(resp.StatusCode(), resp.Header().Get("Content-Type"), resp.Body(), c.refresh)
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		if werr, ok := err.(*Error); ok {
			attrs = append(attrs, slog.String("err_code", werr.Code()))
		}
		logger.Debug(ctx, "wallet.api", "request.rejected", attrs...)
		return nil, err
	}
	logger.Debug(ctx, "wallet.api", "request.done", append(attrs, slog.String("status", "ok"))...)
	return body, nil
}

// checkResponse applies the envelope rules: an "error" object always wins,
// non-JSON bodies are success without content.
func checkResponse(status int, contentType string, body []byte, refresh bool) ([]byte, error) {
	isJSON := strings.Contains(strings.ToLower(contentType), "json")
	if isJSON && len(body) > 0 {
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("wallet: invalid JSON response (status %d)", status)
		}
		if env := gjson.GetBytes(body, "error"); env.Exists() && env.IsObject() {
			return nil, classify(int(env.Get("messageCode").Int()), env.Get("message").String(), refresh)
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	if !isJSON {
		return nil, nil
	}
	return body, nil
}

func decodeBody[T any](body []byte, what string) (T, error) {
	var out T
	if len(body) == 0 {
		return out, fmt.Errorf("%w: %s", ErrEmptyResponse, what)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("wallet: decode %s: %w", what, err)
	}
	return out, nil
}

// SignIn exchanges credentials for a token pair. A missing 2FA pin yields ErrTwoFactorRequired.
func (cl *Client) SignIn(ctx context.Context, req SignInRequest) (Tokens, error) {
	body, err := cl.do(ctx, call{method: http.MethodPost, path: PathSignIn, body: req})
	if err != nil {
		return Tokens{}, err
	}
	return decodeBody[Tokens](body, "sign-in tokens")
}

// SignUp registers a customer and returns its token pair.
func (cl *Client) SignUp(ctx context.Context, req SignUpRequest) (Tokens, error) {
	body, err := cl.do(ctx, call{method: http.MethodPost, path: PathSignUp, body: req})
	if err != nil {
		return Tokens{}, err
	}
	return decodeBody[Tokens](body, "sign-up tokens")
}

// RefreshTokens trades the refresh token (and stale access token) for a new pair.
// Every failure, including transport and decode errors, is reported as ErrTokenRefresh.
func (cl *Client) RefreshTokens(ctx context.Context, current Tokens) (Tokens, error) {
	body, err := cl.do(ctx, call{
		method:  http.MethodPut,
		path:    PathRefreshToken,
		token:   current.AccessToken,
		refresh: true,
		query:   map[string]string{"RefreshToken": current.RefreshToken},
	})
	if err != nil {
		return Tokens{}, refreshFailure(err)
	}
	tokens, err := decodeBody[Tokens](body, "refreshed tokens")
	if err != nil {
		return Tokens{}, refreshFailure(err)
	}
	return tokens, nil
}

// Logout ends the current session or all sessions of the account.
func (cl *Client) Logout(ctx context.Context, accessToken string, scope LogoutScope) error {
	path := PathLogout
	if scope == LogoutAllDevices {
		path = PathLogoutAll
	}
	_, err := cl.do(ctx, call{method: http.MethodPost, path: path, token: accessToken})
	return err
}

// Setup2FA requests enrollment data for an authenticator app.
func (cl *Client) Setup2FA(ctx context.Context, accessToken string) (TwoFactorSetup, error) {
	body, err := cl.do(ctx, call{method: http.MethodPost, path: PathSetup2FA, token: accessToken})
	if err != nil {
		return TwoFactorSetup{}, err
	}
	return decodeBody[TwoFactorSetup](body, "2fa setup")
}

// Enable2FA confirms enrollment with a code from the authenticator app.
func (cl *Client) Enable2FA(ctx context.Context, accessToken, code string) error {
	_, err := cl.do(ctx, call{
		method: http.MethodPost,
		path:   PathEnable2FA,
		token:  accessToken,
		query:  map[string]string{"code": code},
	})
	return err
}

// Disable2FA turns two-factor authentication off.
func (cl *Client) Disable2FA(ctx context.Context, accessToken, code string) error {
	_, err := cl.do(ctx, call{
		method: http.MethodPut,
		path:   PathDisable2FA,
		token:  accessToken,
		query:  map[string]string{"code": code},
	})
	return err
}

// ChangePassword replaces the account password.
func (cl *Client) ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) error {
	_, err := cl.do(ctx, call{method: http.MethodPost, path: PathChangePassword, token: accessToken, body: req})
	return err
}

// Balances lists the user's wallets.
func (cl *Client) Balances(ctx context.Context, accessToken string) ([]CurrencyBalance, error) {
	body, err := cl.do(ctx, call{method: http.MethodGet, path: PathBalances, token: accessToken})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: balances", ErrEmptyResponse)
	}
	return ParseBalances(body)
}

// AccountInfo returns the current customer.
func (cl *Client) AccountInfo(ctx context.Context, accessToken string) (Account, error) {
	body, err := cl.do(ctx, call{method: http.MethodGet, path: PathAccountInfo, token: accessToken})
	if err != nil {
		return Account{}, err
	}
	return decodeBody[Account](body, "account info")
}
