package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/walletbot/core/telegram/state"
	"github.com/m3rciful/walletbot/internal/flow"
	"github.com/m3rciful/walletbot/internal/wallet"
)

const userID int64 = 1001

type fakeAPI struct {
	valid       string
	issued      wallet.Tokens
	refreshed   wallet.Tokens
	refreshErr  error
	refreshes   int
	signInErrs  []error
	signIns     []wallet.SignInRequest
	signUps     []wallet.SignUpRequest
	changeErr   error
	changes     []wallet.ChangePasswordRequest
	enabled     []string
	disabled    []string
	logouts     []wallet.LogoutScope
	balancesErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		issued:    wallet.Tokens{AccessToken: "acc-1", RefreshToken: "ref-1"},
		refreshed: wallet.Tokens{AccessToken: "acc-2", RefreshToken: "ref-2"},
	}
}

func expired() error {
	return &wallet.Error{Kind: wallet.KindAuthentication, MessageCode: wallet.CodeInvalidCredentials, Message: "expired"}
}

func (f *fakeAPI) check(token string) error {
	if token != f.valid {
		return expired()
	}
	return nil
}

func (f *fakeAPI) RefreshTokens(_ context.Context, current wallet.Tokens) (wallet.Tokens, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return wallet.Tokens{}, f.refreshErr
	}
	f.valid = f.refreshed.AccessToken
	return f.refreshed, nil
}

func (f *fakeAPI) SignIn(_ context.Context, req wallet.SignInRequest) (wallet.Tokens, error) {
	f.signIns = append(f.signIns, req)
	if len(f.signInErrs) > 0 {
		err := f.signInErrs[0]
		f.signInErrs = f.signInErrs[1:]
		if err != nil {
			return wallet.Tokens{}, err
		}
	}
	f.valid = f.issued.AccessToken
	return f.issued, nil
}

func (f *fakeAPI) SignUp(_ context.Context, req wallet.SignUpRequest) (wallet.Tokens, error) {
	f.signUps = append(f.signUps, req)
	f.valid = f.issued.AccessToken
	return f.issued, nil
}

func (f *fakeAPI) Logout(_ context.Context, token string, scope wallet.LogoutScope) error {
	if err := f.check(token); err != nil {
		return err
	}
	f.logouts = append(f.logouts, scope)
	f.valid = ""
	return nil
}

func (f *fakeAPI) Setup2FA(_ context.Context, token string) (wallet.TwoFactorSetup, error) {
	if err := f.check(token); err != nil {
		return wallet.TwoFactorSetup{}, err
	}
	return wallet.TwoFactorSetup{ManualEntryKey: "KEY", Account: "neo@wallet", QRCodeSetupImageURL: "https://qr/1"}, nil
}

func (f *fakeAPI) Enable2FA(_ context.Context, token, code string) error {
	if err := f.check(token); err != nil {
		return err
	}
	f.enabled = append(f.enabled, code)
	return nil
}

func (f *fakeAPI) Disable2FA(_ context.Context, token, code string) error {
	if err := f.check(token); err != nil {
		return err
	}
	f.disabled = append(f.disabled, code)
	return nil
}

func (f *fakeAPI) ChangePassword(_ context.Context, token string, req wallet.ChangePasswordRequest) error {
	if err := f.check(token); err != nil {
		return err
	}
	f.changes = append(f.changes, req)
	return f.changeErr
}

func (f *fakeAPI) Balances(_ context.Context, token string) ([]wallet.CurrencyBalance, error) {
	if err := f.check(token); err != nil {
		return nil, err
	}
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return []wallet.CurrencyBalance{{Name: "BTC", AvailableBalance: 1.5}, {Name: "ETH", AvailableBalance: 0}}, nil
}

func (f *fakeAPI) AccountInfo(_ context.Context, token string) (wallet.Account, error) {
	if err := f.check(token); err != nil {
		return wallet.Account{}, err
	}
	return wallet.Account{UserName: "neo"}, nil
}

const mainScreenText = "neo\n\nBTC--balance:1.5\nETH--balance:0"

func newTestService(t *testing.T) (*Service, *fakeAPI, state.Store) {
	t.Helper()
	store := state.NewMemoryStore()
	api := newFakeAPI()
	return NewService(store, api), api, store
}

func session(t *testing.T, store state.Store) *state.Session {
	t.Helper()
	sess, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	return sess
}

func text(t *testing.T, svc *Service, input string) Reply {
	t.Helper()
	r, err := svc.Text(context.Background(), userID, input)
	require.NoError(t, err)
	return r
}

func selectAction(t *testing.T, svc *Service, a flow.Action) Reply {
	t.Helper()
	r, err := svc.Select(context.Background(), userID, a)
	require.NoError(t, err)
	return r
}

func signIn(t *testing.T, svc *Service) {
	t.Helper()
	selectAction(t, svc, flow.ActionSignIn)
	text(t, svc, "neo")
	text(t, svc, "secret")
	r := text(t, svc, "cap")
	require.Equal(t, MenuMain, r.Menu)
}

func TestStartForNewUser(t *testing.T) {
	svc, _, store := newTestService(t)
	r, err := svc.Start(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Reply{Messages: []string{MsgWelcome}, Menu: MenuStart}, r)
	assert.Equal(t, state.StateIdle, session(t, store).State)
}

func TestSignInWithoutTwoFactor(t *testing.T) {
	svc, api, store := newTestService(t)

	assert.Equal(t, []string{"Type your login"}, selectAction(t, svc, flow.ActionSignIn).Messages)
	assert.Equal(t, flow.StateDataSubmission, session(t, store).State)
	assert.Equal(t, []string{"Type your password"}, text(t, svc, "neo").Messages)
	assert.Equal(t, []string{"Type your captcha"}, text(t, svc, "secret").Messages)
	assert.Empty(t, api.signIns)

	r := text(t, svc, "cap")
	assert.Equal(t, Reply{Messages: []string{mainScreenText}, Menu: MenuMain}, r)
	require.Len(t, api.signIns, 1)
	assert.Equal(t, wallet.SignInRequest{Login: "neo", Password: "secret", Captcha: "cap"}, api.signIns[0])

	sess := session(t, store)
	assert.Equal(t, flow.StateWorkProcess, sess.State)
	assert.True(t, flow.LoggedIn(sess))
	assert.False(t, sess.Has(flow.KeyTask))
	assert.False(t, sess.Has(flow.KeyFields))
	tokens, err := flow.Tokens(sess)
	require.NoError(t, err)
	assert.Equal(t, api.issued, tokens)
}

func TestSignInKeepsCredentialWhitespace(t *testing.T) {
	svc, api, _ := newTestService(t)

	selectAction(t, svc, flow.ActionSignIn)
	text(t, svc, "neo")
	text(t, svc, "  pass phrase ")
	text(t, svc, "cap")

	require.Len(t, api.signIns, 1)
	assert.Equal(t, "  pass phrase ", api.signIns[0].Password)
}

func TestSignInAsksForTwoFactorAndResubmits(t *testing.T) {
	svc, api, store := newTestService(t)
	api.signInErrs = []error{&wallet.Error{Kind: wallet.KindTwoFactorRequired, MessageCode: 126, Message: "2fa needed"}}

	selectAction(t, svc, flow.ActionSignIn)
	text(t, svc, "neo")
	text(t, svc, "secret")
	r := text(t, svc, "cap")
	assert.Equal(t, []string{"2fa needed", "Type your 2fa code"}, r.Messages)
	assert.Equal(t, MenuNone, r.Menu)
	assert.Equal(t, flow.StateDataSubmission, session(t, store).State)

	r = text(t, svc, " 123456\n")
	assert.Equal(t, MenuMain, r.Menu)
	require.Len(t, api.signIns, 2)
	assert.Empty(t, api.signIns[0].TwoFaPin)
	assert.Equal(t, "123456", api.signIns[1].TwoFaPin)
	assert.Equal(t, flow.StateWorkProcess, session(t, store).State)
}

func TestSignInRepeatedTwoFactorResets(t *testing.T) {
	svc, api, store := newTestService(t)
	twoFA := &wallet.Error{Kind: wallet.KindTwoFactorRequired, MessageCode: 126, Message: "2fa needed"}
	api.signInErrs = []error{twoFA, twoFA}

	selectAction(t, svc, flow.ActionSignIn)
	text(t, svc, "neo")
	text(t, svc, "secret")
	text(t, svc, "cap")
	r := text(t, svc, "000000")
	assert.Equal(t, MenuBackToStart, r.Menu)
	assert.Equal(t, state.StateIdle, session(t, store).State)
}

func TestSignUpNeedsAllFields(t *testing.T) {
	svc, api, _ := newTestService(t)

	assert.Equal(t, []string{"Type your email"}, selectAction(t, svc, flow.ActionSignUp).Messages)
	text(t, svc, "a@b.c")
	text(t, svc, "pw")
	r := text(t, svc, "neo")
	assert.Equal(t, []string{"Type your captcha"}, r.Messages)
	assert.Empty(t, api.signUps)

	r = text(t, svc, "cap")
	assert.Equal(t, MenuMain, r.Menu)
	require.Len(t, api.signUps, 1)
	assert.Equal(t, wallet.SignUpRequest{Email: "a@b.c", Password: "pw", UserName: "neo", Captcha: "cap"}, api.signUps[0])
}

func TestRejectedSignInResetsSession(t *testing.T) {
	svc, api, store := newTestService(t)
	api.signInErrs = []error{&wallet.Error{Kind: wallet.KindUserData, MessageCode: 5, Message: "bad captcha"}}

	selectAction(t, svc, flow.ActionSignIn)
	text(t, svc, "neo")
	text(t, svc, "secret")
	r := text(t, svc, "cap")
	assert.Equal(t, Reply{Messages: []string{"Error occurred bad captcha code: 5"}, Menu: MenuBackToStart}, r)

	sess := session(t, store)
	assert.Equal(t, state.StateIdle, sess.State)
	assert.Empty(t, sess.Data)

	r = selectAction(t, svc, flow.ActionBackToStart)
	assert.Equal(t, MenuStart, r.Menu)
}

func TestPasswordChange(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)

	assert.Equal(t, []string{"Type your email"}, selectAction(t, svc, flow.ActionChangePassword).Messages)
	text(t, svc, "a@b.c")
	text(t, svc, "old")
	r := text(t, svc, "new")
	assert.Equal(t, Reply{Messages: []string{MsgPasswordChanged, mainScreenText}, Menu: MenuMain}, r)
	require.Len(t, api.changes, 1)
	assert.Equal(t, wallet.ChangePasswordRequest{Email: "a@b.c", CurrentPassword: "old", NewPassword: "new"}, api.changes[0])
	assert.Equal(t, flow.StateWorkProcess, session(t, store).State)
}

func TestRejectedPasswordChangeKeepsSession(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)
	api.changeErr = &wallet.Error{Kind: wallet.KindUserData, MessageCode: 9, Message: "wrong password"}

	selectAction(t, svc, flow.ActionChangePassword)
	text(t, svc, "a@b.c")
	text(t, svc, "bad")
	r := text(t, svc, "new")
	assert.Equal(t, Reply{Messages: []string{"Error occurred. wrong password code: 9"}, Menu: MenuMain}, r)

	sess := session(t, store)
	assert.Equal(t, flow.StateWorkProcess, sess.State)
	assert.True(t, flow.LoggedIn(sess))
	assert.False(t, sess.Has(flow.KeyTask))
	tokens, err := flow.Tokens(sess)
	require.NoError(t, err)
	assert.False(t, tokens.Empty())
}

func TestTransportErrorKeepsAuthenticatedSession(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)
	api.balancesErr = errors.New("dial tcp: connection refused")

	r := selectAction(t, svc, flow.ActionBalance)
	assert.Equal(t, Reply{Messages: []string{"Something is wrong with your data!" + MsgServiceUnavailable}, Menu: MenuMain}, r)
	assert.True(t, flow.LoggedIn(session(t, store)))
}

func TestExpiredTokenIsRefreshedOnce(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)
	api.valid = "rotated-by-backend"
	api.refreshed = wallet.Tokens{AccessToken: "rotated-by-backend", RefreshToken: "ref-2"}

	r := selectAction(t, svc, flow.ActionBalance)
	assert.Equal(t, Reply{Messages: []string{mainScreenText}, Menu: MenuMain}, r)
	assert.Equal(t, 1, api.refreshes)

	tokens, err := flow.Tokens(session(t, store))
	require.NoError(t, err)
	assert.Equal(t, api.refreshed, tokens)
}

func TestRefreshFailureDropsSession(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)
	api.valid = "other"
	api.refreshErr = &wallet.Error{Kind: wallet.KindTokenRefresh, MessageCode: 171, Message: "refresh expired"}

	r := selectAction(t, svc, flow.ActionBalance)
	assert.Equal(t, Reply{Messages: []string{"Error occurred refresh expired code: 171"}, Menu: MenuBackToStart}, r)
	sess := session(t, store)
	assert.Equal(t, state.StateIdle, sess.State)
	assert.False(t, flow.LoggedIn(sess))
}

func TestLogoutClearsTokens(t *testing.T) {
	for _, tc := range []struct {
		action flow.Action
		scope  wallet.LogoutScope
	}{
		{flow.ActionLogout, wallet.LogoutCurrentDevice},
		{flow.ActionLogoutAll, wallet.LogoutAllDevices},
	} {
		t.Run(tc.action.String(), func(t *testing.T) {
			svc, api, store := newTestService(t)
			signIn(t, svc)

			r := selectAction(t, svc, tc.action)
			assert.Equal(t, Reply{Messages: []string{MsgWelcome}, Menu: MenuStart}, r)
			assert.Equal(t, []wallet.LogoutScope{tc.scope}, api.logouts)

			sess := session(t, store)
			assert.Empty(t, sess.Data)
			tokens, err := flow.Tokens(sess)
			require.NoError(t, err)
			assert.True(t, tokens.Empty())

			r = selectAction(t, svc, flow.ActionBalance)
			assert.Equal(t, []string{MsgNotLoggedIn, MsgWelcome}, r.Messages)
			assert.Zero(t, api.refreshes)
		})
	}
}

func TestEnableTwoFactor(t *testing.T) {
	svc, api, store := newTestService(t)
	signIn(t, svc)

	r := selectAction(t, svc, flow.ActionEnable2FA)
	require.Len(t, r.Messages, 1)
	assert.Equal(t, "Use manual key:KEY and your account name neo@wallet to setup 2fa or check this QR code: https://qr/1 and send code back", r.Messages[0])
	pending, ok := flow.Pending(session(t, store))
	require.True(t, ok)
	assert.Equal(t, flow.ActionEnable2FA, pending)

	r = text(t, svc, " 654321 ")
	assert.Equal(t, Reply{Messages: []string{MsgTwoFactorEnabled, mainScreenText}, Menu: MenuMain}, r)
	assert.Equal(t, []string{"654321"}, api.enabled)
	_, ok = flow.Pending(session(t, store))
	assert.False(t, ok)
}

func TestDisableTwoFactor(t *testing.T) {
	svc, api, _ := newTestService(t)
	signIn(t, svc)

	assert.Equal(t, []string{MsgTypeTwoFactorCode}, selectAction(t, svc, flow.ActionDisable2FA).Messages)
	r := text(t, svc, "111111")
	assert.Equal(t, []string{MsgTwoFactorDisabled, mainScreenText}, r.Messages)
	assert.Equal(t, []string{"111111"}, api.disabled)
}

func TestTextWithoutPendingActionShowsMenu(t *testing.T) {
	svc, api, _ := newTestService(t)
	signIn(t, svc)

	r := text(t, svc, "hello")
	assert.Equal(t, Reply{Messages: []string{MsgChooseAction, mainScreenText}, Menu: MenuMain}, r)
	assert.Empty(t, api.enabled)
	assert.Empty(t, api.disabled)
}

func TestCancelAbandonsTask(t *testing.T) {
	svc, _, store := newTestService(t)
	selectAction(t, svc, flow.ActionSignUp)
	text(t, svc, "a@b.c")

	r, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Reply{Messages: []string{MsgCancelled, MsgWelcome}, Menu: MenuStart}, r)
	sess := session(t, store)
	assert.Equal(t, state.StateIdle, sess.State)
	assert.False(t, sess.Has(flow.KeyTask))
	assert.False(t, sess.Has(flow.KeyFields))
}

func TestCancelPasswordChangeReturnsToMenu(t *testing.T) {
	svc, _, store := newTestService(t)
	signIn(t, svc)
	selectAction(t, svc, flow.ActionChangePassword)

	r, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Reply{Messages: []string{MsgCancelled, mainScreenText}, Menu: MenuMain}, r)
	assert.Equal(t, flow.StateWorkProcess, session(t, store).State)
}

func TestStartWhenLoggedInShowsMainScreen(t *testing.T) {
	svc, _, _ := newTestService(t)
	signIn(t, svc)

	r, err := svc.Start(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Reply{Messages: []string{mainScreenText}, Menu: MenuMain}, r)
}

func TestStartButtonsWhenLoggedInShowMainScreen(t *testing.T) {
	for _, a := range []flow.Action{flow.ActionSignIn, flow.ActionSignUp} {
		t.Run(a.String(), func(t *testing.T) {
			svc, api, store := newTestService(t)
			signIn(t, svc)

			r := selectAction(t, svc, a)
			assert.Equal(t, Reply{Messages: []string{mainScreenText}, Menu: MenuMain}, r)

			sess := session(t, store)
			assert.True(t, flow.LoggedIn(sess))
			assert.False(t, sess.Has(flow.KeyTask))
			tokens, err := flow.Tokens(sess)
			require.NoError(t, err)
			assert.Equal(t, api.issued, tokens)
			assert.Len(t, api.signIns, 1)
			assert.Empty(t, api.signUps)
		})
	}
}

func TestIdleTextShowsStartMenu(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, Reply{Messages: []string{MsgWelcome}, Menu: MenuStart}, text(t, svc, "hi"))
}

func TestMenuButtons(t *testing.T) {
	assert.Len(t, MenuStart.Buttons(), 2)
	assert.Len(t, MenuMain.Buttons(), 6)
	assert.Equal(t, flow.ActionBackToStart, MenuBackToStart.Buttons()[0].Action)
	assert.Nil(t, MenuNone.Buttons())
	require.NotNil(t, menuMarkup(MenuMain))
	assert.Len(t, menuMarkup(MenuMain).InlineKeyboard, 3)
	assert.Equal(t, flow.ActionBalance.Code(), menuMarkup(MenuMain).InlineKeyboard[1][1].Data)
	assert.Nil(t, menuMarkup(MenuNone))
}
