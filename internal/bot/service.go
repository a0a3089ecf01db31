package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/core/telegram/state"
	"github.com/m3rciful/walletbot/internal/flow"
	"github.com/m3rciful/walletbot/internal/wallet"
)

// WalletAPI is the subset of the wallet client used by the bot.
type WalletAPI interface {
	wallet.Refresher
	SignIn(ctx context.Context, req wallet.SignInRequest) (wallet.Tokens, error)
	SignUp(ctx context.Context, req wallet.SignUpRequest) (wallet.Tokens, error)
	Logout(ctx context.Context, accessToken string, scope wallet.LogoutScope) error
	Setup2FA(ctx context.Context, accessToken string) (wallet.TwoFactorSetup, error)
	Enable2FA(ctx context.Context, accessToken, code string) error
	Disable2FA(ctx context.Context, accessToken, code string) error
	ChangePassword(ctx context.Context, accessToken string, req wallet.ChangePasswordRequest) error
	Balances(ctx context.Context, accessToken string) ([]wallet.CurrencyBalance, error)
	AccountInfo(ctx context.Context, accessToken string) (wallet.Account, error)
}

// Menu selects the keyboard attached to the last message of a Reply.
type Menu int

const (
	MenuNone Menu = iota
	MenuStart
	MenuMain
	MenuBackToStart
)

// Reply is what the bot answers to one user event.
type Reply struct {
	Messages []string
	Menu     Menu
}

func (r *Reply) add(msg string) {
	if msg != "" {
		r.Messages = append(r.Messages, msg)
	}
}

// Service runs conversation transitions against the session store and the wallet API.
// Callers must serialize events per user.
type Service struct {
	store state.Store
	api   WalletAPI
}

// NewService wires a Service.
func NewService(store state.Store, api WalletAPI) *Service {
	return &Service{store: store, api: api}
}

// turn is one event being processed for a user. Mutations go to sess and are
// persisted by commit, or the record is dropped when reset is set.
type turn struct {
	svc    *Service
	userID int64
	sess   *state.Session
	from   state.State
	reset  bool
}

func (s *Service) begin(ctx context.Context, userID int64) (*turn, error) {
	sess, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("bot: load session: %w", err)
	}
	return &turn{svc: s, userID: userID, sess: sess, from: sess.State}, nil
}

func (t *turn) commit(ctx context.Context) error {
	if t.reset {
		if err := t.svc.store.Reset(ctx, t.userID); err != nil {
			return fmt.Errorf("bot: reset session: %w", err)
		}
	} else {
		snapshot := t.sess
		err := t.svc.store.Update(ctx, t.userID, func(s *state.Session) error {
			s.State = snapshot.State
			s.Data = snapshot.Data
			return nil
		})
		if err != nil {
			return fmt.Errorf("bot: save session: %w", err)
		}
	}
	to := t.sess.State
	if t.reset {
		to = state.StateIdle
	}
	if to != t.from {
		logger.Info(ctx, "flow", "transition",
			slog.Int64("user_id", t.userID),
			slog.String("from", string(t.from)),
			slog.String("state", string(to)),
		)
	}
	return nil
}

// finish persists the turn and returns r.
func (t *turn) finish(ctx context.Context, r Reply) (Reply, error) {
	if err := t.commit(ctx); err != nil {
		return Reply{}, err
	}
	return r, nil
}

// clear drops the whole record; nothing survives the turn.
func (t *turn) clear() {
	t.sess.Clear()
	t.reset = true
}

// Tokens implements wallet.TokenStore over the turn's session.
func (t *turn) Tokens(context.Context) (wallet.Tokens, error) {
	return flow.Tokens(t.sess)
}

// SaveTokens also writes through to the store so a refreshed pair outlives a failed retry.
func (t *turn) SaveTokens(ctx context.Context, tokens wallet.Tokens) error {
	if err := flow.SetTokens(t.sess, tokens); err != nil {
		return err
	}
	logger.Debug(ctx, "flow", "tokens.refreshed", slog.Int64("user_id", t.userID))
	return state.SetValue(ctx, t.svc.store, t.userID, flow.KeyTokens, tokens)
}

func (t *turn) policy() wallet.Policy {
	return wallet.Policy{Refresher: t.svc.api, Store: t}
}

// Start handles /start.
func (s *Service) Start(ctx context.Context, userID int64) (Reply, error) {
	t, err := s.begin(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if flow.LoggedIn(t.sess) {
		flow.ReturnToMenu(t.sess)
		return t.finish(ctx, t.mainScreen(ctx))
	}
	flow.FinishTask(t.sess)
	flow.ClearPending(t.sess)
	t.sess.State = state.StateIdle
	return t.finish(ctx, startReply())
}

// Cancel abandons the active task or pending code request.
func (s *Service) Cancel(ctx context.Context, userID int64) (Reply, error) {
	t, err := s.begin(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if !flow.LoggedIn(t.sess) {
		flow.FinishTask(t.sess)
		t.sess.State = state.StateIdle
		r := startReply()
		r.Messages = append([]string{MsgCancelled}, r.Messages...)
		return t.finish(ctx, r)
	}
	flow.ReturnToMenu(t.sess)
	r := Reply{}
	r.add(MsgCancelled)
	return t.finish(ctx, t.withMainScreen(ctx, r))
}

// Select handles a button press.
func (s *Service) Select(ctx context.Context, userID int64, action flow.Action) (Reply, error) {
	ctx = logger.WithAction(ctx, action.String())
	t, err := s.begin(ctx, userID)
	if err != nil {
		return Reply{}, err
	}

	switch action {
	case flow.ActionSignIn, flow.ActionSignUp:
		if flow.LoggedIn(t.sess) {
			flow.ReturnToMenu(t.sess)
			return t.finish(ctx, t.mainScreen(ctx))
		}
		tt, _ := action.TaskType()
		return t.finish(ctx, t.beginTask(tt))
	case flow.ActionBackToStart:
		if flow.LoggedIn(t.sess) {
			flow.ReturnToMenu(t.sess)
			return t.finish(ctx, t.mainScreen(ctx))
		}
		t.clear()
		return t.finish(ctx, startReply())
	}

	if !flow.LoggedIn(t.sess) {
		t.clear()
		r := startReply()
		r.Messages = append([]string{MsgNotLoggedIn}, r.Messages...)
		return t.finish(ctx, r)
	}

	switch action {
	case flow.ActionChangePassword:
		return t.finish(ctx, t.beginTask(flow.TaskPasswordChange))
	case flow.ActionDisable2FA:
		flow.ReturnToMenu(t.sess)
		if err := flow.SetPending(t.sess, flow.ActionDisable2FA); err != nil {
			return Reply{}, err
		}
		return t.finish(ctx, Reply{Messages: []string{MsgTypeTwoFactorCode}})
	case flow.ActionEnable2FA:
		flow.ReturnToMenu(t.sess)
		setup, err := wallet.Authorized(ctx, t.policy(), t.svc.api.Setup2FA)
		if err != nil {
			return t.finish(ctx, t.fail(ctx, err))
		}
		if err := flow.SetPending(t.sess, flow.ActionEnable2FA); err != nil {
			return Reply{}, err
		}
		return t.finish(ctx, Reply{Messages: []string{setupMessage(setup)}})
	case flow.ActionLogout, flow.ActionLogoutAll:
		scope := wallet.LogoutCurrentDevice
		if action == flow.ActionLogoutAll {
			scope = wallet.LogoutAllDevices
		}
		err := wallet.Do(ctx, t.policy(), func(ctx context.Context, token string) error {
			return t.svc.api.Logout(ctx, token, scope)
		})
		if err != nil {
			return t.finish(ctx, t.fail(ctx, err))
		}
		t.clear()
		return t.finish(ctx, startReply())
	case flow.ActionBalance:
		flow.ReturnToMenu(t.sess)
		return t.finish(ctx, t.mainScreen(ctx))
	}
	return Reply{}, fmt.Errorf("bot: unsupported action %s", action)
}

// Text handles free text according to the conversation state.
func (s *Service) Text(ctx context.Context, userID int64, input string) (Reply, error) {
	t, err := s.begin(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	switch t.sess.State {
	case flow.StateDataSubmission:
		return t.finish(ctx, t.collect(ctx, input))
	case flow.StateWorkProcess:
		return t.finish(ctx, t.submitCode(ctx, strings.TrimSpace(input)))
	}
	return t.finish(ctx, startReply())
}

func (t *turn) beginTask(tt flow.TaskType) Reply {
	task, err := flow.Begin(t.sess, tt)
	if err != nil {
		return Reply{Messages: []string{errorMessage(err)}, Menu: MenuBackToStart}
	}
	field, _ := task.NextField()
	return Reply{Messages: []string{promptFor(field)}}
}

func (t *turn) collect(ctx context.Context, input string) Reply {
	step, err := flow.Advance(t.sess, input)
	if err != nil {
		if errors.Is(err, flow.ErrNoTask) {
			if flow.LoggedIn(t.sess) {
				flow.ReturnToMenu(t.sess)
				return t.mainScreen(ctx)
			}
			t.sess.State = state.StateIdle
			return startReply()
		}
		return t.fail(ctx, err)
	}
	ctx = logger.WithAction(ctx, step.Task.Type.String())
	logger.Debug(ctx, "flow", "field.collected",
		slog.Int64("user_id", t.userID),
		slog.String("task", step.Task.Type.String()),
		slog.Int("index", step.Task.Index),
		slog.Bool("ready", step.Ready),
	)
	if !step.Ready {
		field, _ := step.Next()
		return Reply{Messages: []string{promptFor(field)}}
	}
	return t.submitTask(ctx, step)
}

func (t *turn) submitTask(ctx context.Context, step flow.Step) Reply {
	f := step.Fields
	var err error
	switch step.Task.Type {
	case flow.TaskSignIn:
		var tokens wallet.Tokens
		tokens, err = t.svc.api.SignIn(ctx, wallet.SignInRequest{
			Login:    f[flow.FieldLogin],
			Password: f[flow.FieldPassword],
			Captcha:  f[flow.FieldCaptcha],
			TwoFaPin: strings.TrimSpace(f[flow.FieldTwoFaPin]),
		})
		if err == nil {
			err = flow.Authorize(t.sess, tokens)
		}
	case flow.TaskSignUp:
		var tokens wallet.Tokens
		tokens, err = t.svc.api.SignUp(ctx, wallet.SignUpRequest{
			Email:    f[flow.FieldEmail],
			Password: f[flow.FieldPassword],
			UserName: f[flow.FieldUserName],
			Captcha:  f[flow.FieldCaptcha],
		})
		if err == nil {
			err = flow.Authorize(t.sess, tokens)
		}
	case flow.TaskPasswordChange:
		err = wallet.Do(ctx, t.policy(), func(ctx context.Context, token string) error {
			return t.svc.api.ChangePassword(ctx, token, wallet.ChangePasswordRequest{
				Email:           f[flow.FieldEmail],
				CurrentPassword: f[flow.FieldCurrentPassword],
				NewPassword:     f[flow.FieldNewPassword],
				TwoFaPin:        strings.TrimSpace(f[flow.FieldTwoFaPin]),
			})
		})
		if err == nil {
			flow.ReturnToMenu(t.sess)
			return t.withMainScreen(ctx, Reply{Messages: []string{MsgPasswordChanged}})
		}
	}

	if err == nil {
		logger.Info(ctx, "flow", "task.submitted",
			slog.Int64("user_id", t.userID),
			slog.String("task", step.Task.Type.String()),
			slog.String("status", "ok"),
		)
		return t.mainScreen(ctx)
	}

	if errors.Is(err, wallet.ErrTwoFactorRequired) {
		if field, ok := step.Next(); ok {
			logger.Debug(ctx, "flow", "task.two_factor",
				slog.Int64("user_id", t.userID),
				slog.String("task", step.Task.Type.String()),
			)
			r := Reply{}
			var werr *wallet.Error
			if errors.As(err, &werr) {
				r.add(werr.Message)
			}
			r.add(promptFor(field))
			return r
		}
	}
	return t.fail(ctx, err)
}

func (t *turn) submitCode(ctx context.Context, code string) Reply {
	pending, ok := flow.Pending(t.sess)
	if !ok {
		return t.withMainScreen(ctx, Reply{Messages: []string{MsgChooseAction}})
	}
	ctx = logger.WithAction(ctx, pending.String())
	flow.ClearPending(t.sess)

	var (
		err  error
		done string
	)
	switch pending {
	case flow.ActionDisable2FA:
		err = wallet.Do(ctx, t.policy(), func(ctx context.Context, token string) error {
			return t.svc.api.Disable2FA(ctx, token, code)
		})
		done = MsgTwoFactorDisabled
	default:
		err = wallet.Do(ctx, t.policy(), func(ctx context.Context, token string) error {
			return t.svc.api.Enable2FA(ctx, token, code)
		})
		done = MsgTwoFactorEnabled
	}
	if err != nil {
		return t.fail(ctx, err)
	}
	return t.withMainScreen(ctx, Reply{Messages: []string{done}})
}

// mainScreen renders account name and balances with the main menu.
func (t *turn) mainScreen(ctx context.Context) Reply {
	return t.withMainScreen(ctx, Reply{})
}

func (t *turn) withMainScreen(ctx context.Context, r Reply) Reply {
	account, err := wallet.Authorized(ctx, t.policy(), t.svc.api.AccountInfo)
	if err != nil {
		return t.fail(ctx, err)
	}
	balances, err := wallet.Authorized(ctx, t.policy(), t.svc.api.Balances)
	if err != nil {
		return t.fail(ctx, err)
	}
	r.add(userDataMessage(account, balances))
	r.Menu = MenuMain
	return r
}

// fail turns an error into a reply. Sessions that never authorized, or whose
// tokens can no longer be refreshed, are dropped; others stay in the main menu.
func (t *turn) fail(ctx context.Context, err error) Reply {
	kind := wallet.KindOf(err)
	attrs := []slog.Attr{
		slog.Int64("user_id", t.userID),
		slog.String("status", "fail"),
		slog.String("kind", kind.String()),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	}

	dead := !flow.LoggedIn(t.sess) ||
		kind == wallet.KindTokenRefresh ||
		kind == wallet.KindAuthentication ||
		errors.Is(err, wallet.ErrNotAuthenticated)
	if dead {
		logger.Info(ctx, "flow", "session.reset", attrs...)
		t.clear()
		return Reply{Messages: []string{fmt.Sprintf(MsgErrorOccurred, errorMessage(err))}, Menu: MenuBackToStart}
	}

	logger.Info(ctx, "flow", "request.rejected", attrs...)
	flow.ReturnToMenu(t.sess)
	msg := fmt.Sprintf(MsgWrongData, errorMessage(err))
	if t.from == flow.StateDataSubmission {
		msg = fmt.Sprintf(MsgErrorOccurredDot, errorMessage(err))
	}
	return Reply{Messages: []string{msg}, Menu: MenuMain}
}

func errorMessage(err error) string {
	var werr *wallet.Error
	if errors.As(err, &werr) {
		return werr.Error()
	}
	if errors.Is(err, wallet.ErrNotAuthenticated) {
		return MsgSessionExpired
	}
	return MsgServiceUnavailable
}
