package flow

import (
	"fmt"
	"slices"
)

// TaskType identifies a multi-field operation.
type TaskType int

const (
	TaskSignIn TaskType = iota + 1
	TaskSignUp
	TaskPasswordChange
)

func (t TaskType) String() string {
	switch t {
	case TaskSignIn:
		return "sign_in"
	case TaskSignUp:
		return "sign_up"
	case TaskPasswordChange:
		return "password_change"
	}
	return "unknown"
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t >= TaskSignIn && t <= TaskPasswordChange
}

// Field names collected from the user.
const (
	FieldLogin           = "login"
	FieldPassword        = "password"
	FieldCaptcha         = "captcha"
	FieldTwoFaPin        = "twoFaPin"
	FieldEmail           = "email"
	FieldUserName        = "userName"
	FieldCurrentPassword = "currentPassword"
	FieldNewPassword     = "newPassword"
)

var requiredFields = map[TaskType][]string{
	TaskSignIn:         {FieldLogin, FieldPassword, FieldCaptcha, FieldTwoFaPin},
	TaskSignUp:         {FieldEmail, FieldPassword, FieldUserName, FieldCaptcha},
	TaskPasswordChange: {FieldEmail, FieldCurrentPassword, FieldNewPassword, FieldTwoFaPin},
}

// RequiredFields returns the fixed field order of t.
func RequiredFields(t TaskType) []string {
	return slices.Clone(requiredFields[t])
}

// Fields maps field names to the values typed so far.
type Fields map[string]string

// Task tracks progress through the required fields of one operation.
type Task struct {
	Type  TaskType `json:"type"`
	Index int      `json:"index"`
}

// NewTask starts a task of type t with every required field empty.
func NewTask(t TaskType) (Task, Fields, error) {
	if !t.Valid() {
		return Task{}, nil, fmt.Errorf("flow: unknown task type %d", t)
	}
	fields := make(Fields, len(requiredFields[t]))
	for _, name := range requiredFields[t] {
		fields[name] = ""
	}
	return Task{Type: t}, fields, nil
}

// RequiredFields returns the field order of the task.
func (t Task) RequiredFields() []string {
	return RequiredFields(t.Type)
}

// Collect stores input under the current field when it is in range and
// advances the index. The index stops at len+1; late input is dropped.
func (t *Task) Collect(fields Fields, input string) bool {
	req := requiredFields[t.Type]
	written := false
	if t.Index >= 0 && t.Index < len(req) {
		fields[req[t.Index]] = input
		written = true
	}
	if t.Index <= len(req) {
		t.Index++
	}
	return written
}

// ReadyToSubmit reports whether enough fields are collected to call the backend.
// Sign-in and password change go out before the trailing 2FA pin; sign-up needs every field.
func (t Task) ReadyToSubmit() bool {
	n := len(requiredFields[t.Type])
	if n == 0 {
		return false
	}
	if t.Type == TaskSignUp {
		return t.Index >= n
	}
	return t.Index >= n-1
}

// NextField returns the field the user should type next.
func (t Task) NextField() (string, bool) {
	req := requiredFields[t.Type]
	if t.Index < 0 || t.Index >= len(req) {
		return "", false
	}
	return req[t.Index], true
}

// Remaining lists the fields not yet requested.
func (t Task) Remaining() []string {
	req := requiredFields[t.Type]
	if t.Index >= len(req) {
		return nil
	}
	return slices.Clone(req[max(t.Index, 0):])
}
