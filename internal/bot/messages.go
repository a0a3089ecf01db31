package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/walletbot/internal/flow"
	"github.com/m3rciful/walletbot/internal/wallet"
)

const (
	MsgWelcome            = "Welcome! Do you want to register or log in?"
	MsgPasswordChanged    = "Password was changed!"
	MsgTwoFactorEnabled   = "2FA is enabled!"
	MsgTwoFactorDisabled  = "2FA is disabled!"
	MsgTypeTwoFactorCode  = "Type your 2fa code"
	MsgCancelled          = "Cancelled."
	MsgNotLoggedIn        = "You are not logged in."
	MsgChooseAction       = "Choose an action from the menu."
	MsgSessionExpired     = "session expired, please log in again"
	MsgServiceUnavailable = "wallet service is unavailable, try again later"
	MsgErrorOccurred      = "Error occurred %s"
	MsgErrorOccurredDot   = "Error occurred. %s"
	MsgWrongData          = "Something is wrong with your data!%s"
	MsgHelp               = "/start - open the start or main menu\n/cancel - abandon the current step\n/help - show this message"
)

// Button labels.
const (
	BtnLogIn          = "Log in"
	BtnRegister       = "Register"
	BtnBackToStart    = "Get back to the main page"
	BtnChangePassword = "Change password"
	BtnEnable2FA      = "Enable 2FA"
	BtnDisable2FA     = "Disable 2FA"
	BtnBalance        = "Balance"
	BtnLogout         = "Logout"
	BtnLogoutAll      = "Logout from all devices"
)

// MenuButton is one inline button of a menu.
type MenuButton struct {
	Text   string
	Action flow.Action
}

// Buttons returns the button layout of m.
func (m Menu) Buttons() []MenuButton {
	switch m {
	case MenuStart:
		return []MenuButton{
			{Text: BtnLogIn, Action: flow.ActionSignIn},
			{Text: BtnRegister, Action: flow.ActionSignUp},
		}
	case MenuBackToStart:
		return []MenuButton{{Text: BtnBackToStart, Action: flow.ActionBackToStart}}
	case MenuMain:
		return []MenuButton{
			{Text: BtnChangePassword, Action: flow.ActionChangePassword},
			{Text: BtnEnable2FA, Action: flow.ActionEnable2FA},
			{Text: BtnDisable2FA, Action: flow.ActionDisable2FA},
			{Text: BtnBalance, Action: flow.ActionBalance},
			{Text: BtnLogout, Action: flow.ActionLogout},
			{Text: BtnLogoutAll, Action: flow.ActionLogoutAll},
		}
	}
	return nil
}

func (m Menu) columns() int {
	if m == MenuBackToStart {
		return 1
	}
	return 2
}

func startReply() Reply {
	return Reply{Messages: []string{MsgWelcome}, Menu: MenuStart}
}

var fieldLabels = map[string]string{
	flow.FieldTwoFaPin:        "2fa code",
	flow.FieldUserName:        "user name",
	flow.FieldCurrentPassword: "current password",
	flow.FieldNewPassword:     "new password",
}

func promptFor(field string) string {
	label, ok := fieldLabels[field]
	if !ok {
		label = field
	}
	return "Type your " + label
}

func setupMessage(s wallet.TwoFactorSetup) string {
	return fmt.Sprintf("Use manual key:%s and your account name %s to setup 2fa or check this QR code: %s and send code back",
		s.ManualEntryKey, s.Account, s.QRCodeSetupImageURL)
}

func userDataMessage(account wallet.Account, balances []wallet.CurrencyBalance) string {
	var b strings.Builder
	b.WriteString(account.UserName)
	b.WriteString("\n")
	for _, c := range balances {
		b.WriteString("\n")
		b.WriteString(c.Name)
		b.WriteString("--balance:")
		b.WriteString(strconv.FormatFloat(c.AvailableBalance, 'f', -1, 64))
	}
	return b.String()
}
