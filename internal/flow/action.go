package flow

import (
	"fmt"
	"strings"
)

// Action is a button selection. Values double as callback payloads.
type Action int

const (
	ActionSignIn Action = iota + 1
	ActionSignUp
	ActionLogout
	ActionLogoutAll
	ActionChangePassword
	ActionDisable2FA
	ActionEnable2FA
	ActionBackToStart
	ActionBalance
)

var actionCodes = map[Action]string{
	ActionSignIn:         "98",
	ActionSignUp:         "99",
	ActionLogout:         "100",
	ActionLogoutAll:      "101",
	ActionChangePassword: "105",
	ActionDisable2FA:     "106",
	ActionEnable2FA:      "107",
	ActionBackToStart:    "108",
	ActionBalance:        "109",
}

var actionNames = map[Action]string{
	ActionSignIn:         "sign_in",
	ActionSignUp:         "sign_up",
	ActionLogout:         "logout",
	ActionLogoutAll:      "logout_all",
	ActionChangePassword: "change_password",
	ActionDisable2FA:     "disable_2fa",
	ActionEnable2FA:      "enable_2fa",
	ActionBackToStart:    "back_to_start",
	ActionBalance:        "balance",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Code returns the callback payload of a.
func (a Action) Code() string {
	return actionCodes[a]
}

// Actions returns every known action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, len(actionCodes))
	for a := ActionSignIn; a <= ActionBalance; a++ {
		out = append(out, a)
	}
	return out
}

// ParseAction maps a callback payload back to its Action.
func ParseAction(code string) (Action, error) {
	code = strings.TrimSpace(code)
	for a, c := range actionCodes {
		if c == code {
			return a, nil
		}
	}
	return 0, fmt.Errorf("flow: unknown action code %q", code)
}

// TaskType returns the task started by a, if any.
func (a Action) TaskType() (TaskType, bool) {
	switch a {
	case ActionSignIn:
		return TaskSignIn, true
	case ActionSignUp:
		return TaskSignUp, true
	case ActionChangePassword:
		return TaskPasswordChange, true
	}
	return 0, false
}
