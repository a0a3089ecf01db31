package flow

import (
	"errors"
	"fmt"

	"github.com/m3rciful/walletbot/core/telegram/state"
	"github.com/m3rciful/walletbot/internal/wallet"
)

// Conversation states besides state.StateIdle.
const (
	StateDataSubmission state.State = "data_submission"
	StateWorkProcess    state.State = "work_process"
)

// Session keys.
const (
	KeyTokens   = "tokens"
	KeyLoggedIn = "logged_in"
	KeyTask     = "task"
	KeyFields   = "fields"
	KeyPending  = "pending"
)

// ErrNoTask is returned when text arrives in data submission without a task.
var ErrNoTask = errors.New("flow: no active task")

// Tokens returns the stored token pair, empty when absent.
func Tokens(sess *state.Session) (wallet.Tokens, error) {
	var t wallet.Tokens
	if _, err := sess.Get(KeyTokens, &t); err != nil {
		return wallet.Tokens{}, err
	}
	return t, nil
}

// SetTokens stores a token pair.
func SetTokens(sess *state.Session, t wallet.Tokens) error {
	return sess.Set(KeyTokens, t)
}

// LoggedIn reports whether the session completed an authorization.
func LoggedIn(sess *state.Session) bool {
	var v bool
	if _, err := sess.Get(KeyLoggedIn, &v); err != nil {
		return false
	}
	return v
}

// Authorize stores tokens, marks the session logged in and enters the main menu.
func Authorize(sess *state.Session, t wallet.Tokens) error {
	if err := SetTokens(sess, t); err != nil {
		return err
	}
	if err := sess.Set(KeyLoggedIn, true); err != nil {
		return err
	}
	FinishTask(sess)
	sess.State = StateWorkProcess
	return nil
}

// LoadTask reads the active task together with its collected fields.
func LoadTask(sess *state.Session) (Task, Fields, error) {
	var task Task
	ok, err := sess.Get(KeyTask, &task)
	if err != nil {
		return Task{}, nil, err
	}
	if !ok || !task.Type.Valid() {
		return Task{}, nil, ErrNoTask
	}
	fields := Fields{}
	if _, err := sess.Get(KeyFields, &fields); err != nil {
		return Task{}, nil, err
	}
	for _, name := range task.RequiredFields() {
		if _, ok := fields[name]; !ok {
			fields[name] = ""
		}
	}
	return task, fields, nil
}

// SaveTask writes the task and its fields into the same record.
func SaveTask(sess *state.Session, task Task, fields Fields) error {
	if err := sess.Set(KeyTask, task); err != nil {
		return err
	}
	return sess.Set(KeyFields, fields)
}

// FinishTask drops the task and its fields.
func FinishTask(sess *state.Session) {
	sess.Delete(KeyTask, KeyFields)
}

// Begin starts a task of type t and moves the session to data submission.
func Begin(sess *state.Session, t TaskType) (Task, error) {
	task, fields, err := NewTask(t)
	if err != nil {
		return Task{}, err
	}
	if err := SaveTask(sess, task, fields); err != nil {
		return Task{}, err
	}
	sess.Delete(KeyPending)
	sess.State = StateDataSubmission
	return task, nil
}

// Step is the outcome of feeding one text input to the active task.
type Step struct {
	Task   Task
	Fields Fields
	Ready  bool
}

// Next returns the field to prompt for, if any.
func (s Step) Next() (string, bool) {
	return s.Task.NextField()
}

// Advance collects input into the active task and persists the pair.
func Advance(sess *state.Session, input string) (Step, error) {
	task, fields, err := LoadTask(sess)
	if err != nil {
		return Step{}, err
	}
	task.Collect(fields, input)
	if err := SaveTask(sess, task, fields); err != nil {
		return Step{}, fmt.Errorf("flow: save task: %w", err)
	}
	return Step{Task: task, Fields: fields, Ready: task.ReadyToSubmit()}, nil
}

// Pending returns the action awaiting a code in the main menu.
func Pending(sess *state.Session) (Action, bool) {
	var code string
	ok, err := sess.Get(KeyPending, &code)
	if err != nil || !ok {
		return 0, false
	}
	a, err := ParseAction(code)
	if err != nil {
		return 0, false
	}
	return a, true
}

// SetPending records the action the next text answers.
func SetPending(sess *state.Session, a Action) error {
	return sess.Set(KeyPending, a.Code())
}

// ClearPending forgets the pending action.
func ClearPending(sess *state.Session) {
	sess.Delete(KeyPending)
}

// ReturnToMenu abandons any task and goes back to the main menu, keeping tokens.
func ReturnToMenu(sess *state.Session) {
	FinishTask(sess)
	ClearPending(sess)
	sess.State = StateWorkProcess
}
