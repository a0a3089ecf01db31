package wallet

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Tokens is the access/refresh pair issued by sign-in, sign-up and refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether no access token is present.
func (t Tokens) Empty() bool {
	return t.AccessToken == ""
}

// SignInRequest is the body of the sign-in call.
type SignInRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Captcha  string `json:"capcha"`
	TwoFaPin string `json:"twoFaPin,omitempty"`
}

// SignUpRequest is the body of the sign-up call.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserName string `json:"userName"`
	Captcha  string `json:"capcha"`
}

// ChangePasswordRequest is the body of the change-password call.
type ChangePasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	TwoFaPin        string `json:"twoFaPin,omitempty"`
}

// CurrencyBalance is one wallet entry of the balance query.
type CurrencyBalance struct {
	Name             string  `json:"currencyName"`
	AvailableBalance float64 `json:"availableFunds"`
}

// Account is the subset of the current customer we display.
type Account struct {
	UserName string `json:"userName"`
}

// TwoFactorSetup carries what an authenticator app needs to enroll.
type TwoFactorSetup struct {
	ManualEntryKey      string `json:"manualEntryKey"`
	Account             string `json:"account"`
	QRCodeSetupImageURL string `json:"qrCodeSetupImageUrl"`
}

// LogoutScope selects which devices a logout applies to.
type LogoutScope int

const (
	// LogoutCurrentDevice ends only the session bound to the access token.
	LogoutCurrentDevice LogoutScope = iota
	// LogoutAllDevices ends every session of the account.
	LogoutAllDevices
)

type walletsEnvelope struct {
	Wallets []CurrencyBalance `json:"wallets"`
}

// ParseBalances decodes {"wallets": [...]} into balances in backend order.
func ParseBalances(body []byte) ([]CurrencyBalance, error) {
	var env walletsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("wallet: decode balances: %w", err)
	}
	if env.Wallets == nil {
		return []CurrencyBalance{}, nil
	}
	return env.Wallets, nil
}
