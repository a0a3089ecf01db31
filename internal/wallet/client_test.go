package wallet

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	header http.Header
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), query: map[string]string{}}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &rec.body))
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/api/fo/"}), &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestSignInSendsCredentialsWithoutToken(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"accessToken":"acc","refreshToken":"ref"}`)
	})

	tokens, err := client.SignIn(context.Background(), SignInRequest{Login: "neo", Password: "pw", Captcha: "c"})
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "acc", RefreshToken: "ref"}, tokens)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/fo/Login/SignIn", got.path)
	assert.Empty(t, got.header.Get(AuthHeader))
	assert.NotEmpty(t, got.header.Get("X-Request-ID"))
	assert.Equal(t, map[string]any{"login": "neo", "password": "pw", "capcha": "c"}, got.body)
}

func TestAuthorizedCallsUseCustomHeader(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"userName":"neo"}`)
	})

	acc, err := client.AccountInfo(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "neo", acc.UserName)

	got := (*calls)[0]
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/api/fo/Login/GetCurrentCustomer", got.path)
	assert.Equal(t, "token-1", got.header.Get(AuthHeader))
	assert.Empty(t, got.header.Get("Authorization"))
}

func TestRefreshTokensUsesPutWithQuery(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"accessToken":"new-acc","refreshToken":"new-ref"}`)
	})

	tokens, err := client.RefreshTokens(context.Background(), Tokens{AccessToken: "stale", RefreshToken: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "new-acc", RefreshToken: "new-ref"}, tokens)

	got := (*calls)[0]
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/api/fo/Login/RefreshToken", got.path)
	assert.Equal(t, "ref-1", got.query["RefreshToken"])
	assert.Equal(t, "stale", got.header.Get(AuthHeader))
}

func TestErrorEnvelopeMapping(t *testing.T) {
	cases := []struct {
		name string
		code int
		want *Error
	}{
		{name: "two factor", code: 126, want: ErrTwoFactorRequired},
		{name: "credentials", code: 171, want: ErrAuthentication},
		{name: "other", code: 42, want: ErrUserData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				body, _ := json.Marshal(map[string]any{"error": map[string]any{"messageCode": tc.code, "message": "2fa needed"}})
				writeJSON(w, http.StatusOK, string(body))
			})

			_, err := client.SignIn(context.Background(), SignInRequest{Login: "a"})
			require.ErrorIs(t, err, tc.want)

			var werr *Error
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, tc.code, werr.MessageCode)
			assert.Equal(t, "2fa needed", werr.Message)
		})

		t.Run(tc.name+" on refresh", func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				body, _ := json.Marshal(map[string]any{"error": map[string]any{"messageCode": tc.code, "message": "2fa needed"}})
				writeJSON(w, http.StatusBadRequest, string(body))
			})

			_, err := client.RefreshTokens(context.Background(), Tokens{AccessToken: "a", RefreshToken: "r"})
			require.ErrorIs(t, err, ErrTokenRefresh)
			assert.Equal(t, KindTokenRefresh, KindOf(err))
		})
	}
}

func TestNonJSONResponseIsSuccessWithoutBody(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})

	require.NoError(t, client.Logout(context.Background(), "tok", LogoutAllDevices))
	require.NoError(t, client.Enable2FA(context.Background(), "tok", "123456"))
	require.NoError(t, client.Disable2FA(context.Background(), "tok", "654321"))
	require.NoError(t, client.ChangePassword(context.Background(), "tok", ChangePasswordRequest{Email: "e", CurrentPassword: "a", NewPassword: "b"}))

	require.Len(t, *calls, 4)
	assert.Equal(t, "/api/fo/Login/LogoutFromAllDevices", (*calls)[0].path)
	assert.Equal(t, http.MethodPost, (*calls)[1].method)
	assert.Equal(t, "123456", (*calls)[1].query["code"])
	assert.Equal(t, http.MethodPut, (*calls)[2].method)
	assert.Equal(t, "/api/fo/Login/Disable2Fa", (*calls)[2].path)
	assert.Equal(t, map[string]any{"email": "e", "currentPassword": "a", "newPassword": "b"}, (*calls)[3].body)
}

func TestUnexpectedStatusWithoutEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Logout(context.Background(), "tok", LogoutCurrentDevice)
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Zero(t, KindOf(err))
}

func TestRefreshFailuresWithoutEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
		cause   error
	}{
		{
			name: "bad gateway",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(http.StatusBadGateway)
			},
			cause: ErrUnexpectedStatus,
		},
		{
			name: "plain text body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = io.WriteString(w, "ok")
			},
			cause: ErrEmptyResponse,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, tc.handler)

			_, err := client.RefreshTokens(context.Background(), Tokens{AccessToken: "a", RefreshToken: "r"})
			require.ErrorIs(t, err, ErrTokenRefresh)
			require.ErrorIs(t, err, tc.cause)
			assert.Equal(t, KindTokenRefresh, KindOf(err))
		})
	}
}

func TestBalancesAndSetup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/fo/Account/GetUserWallets":
			writeJSON(w, http.StatusOK, `{"wallets":[{"currencyName":"BTC","availableFunds":1.5},{"currencyName":"ETH","availableFunds":0}]}`)
		case "/api/fo/Login/Setup2Fa":
			writeJSON(w, http.StatusOK, `{"manualEntryKey":"KEY","account":"neo@x","qrCodeSetupImageUrl":"https://qr"}`)
		}
	})

	balances, err := client.Balances(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []CurrencyBalance{{Name: "BTC", AvailableBalance: 1.5}, {Name: "ETH", AvailableBalance: 0}}, balances)

	setup, err := client.Setup2FA(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, TwoFactorSetup{ManualEntryKey: "KEY", Account: "neo@x", QRCodeSetupImageURL: "https://qr"}, setup)
}

func TestParseBalances(t *testing.T) {
	balances, err := ParseBalances([]byte(`{"wallets":[{"currencyName":"BTC","availableFunds":1.5}]}`))
	require.NoError(t, err)
	assert.Equal(t, []CurrencyBalance{{Name: "BTC", AvailableBalance: 1.5}}, balances)

	empty, err := ParseBalances([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseBalances([]byte(`{"wallets":"nope"}`))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTwoFactorRequired, classify(126, "", false).Kind)
	assert.Equal(t, KindAuthentication, classify(171, "", false).Kind)
	assert.Equal(t, KindUserData, classify(1, "", false).Kind)
	for _, code := range []int{126, 171, 1} {
		assert.Equal(t, KindTokenRefresh, classify(code, "", true).Kind)
	}
	assert.Equal(t, "bad pin code: 7", classify(7, "bad pin", false).Error())
	assert.Equal(t, "TWO_FACTOR_REQUIRED", classify(126, "", false).Code())
}
