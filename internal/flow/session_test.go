package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/walletbot/core/telegram/state"
	"github.com/m3rciful/walletbot/internal/wallet"
)

func TestBeginAndAdvancePersistTaskWithFields(t *testing.T) {
	sess := state.NewSession()
	_, err := Begin(sess, TaskSignIn)
	require.NoError(t, err)
	assert.Equal(t, StateDataSubmission, sess.State)

	step, err := Advance(sess, "neo")
	require.NoError(t, err)
	assert.False(t, step.Ready)
	next, ok := step.Next()
	require.True(t, ok)
	assert.Equal(t, FieldPassword, next)

	task, fields, err := LoadTask(sess)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Index)
	assert.Equal(t, "neo", fields[FieldLogin])
}

func TestAdvanceWithoutTask(t *testing.T) {
	_, err := Advance(state.NewSession(), "x")
	require.ErrorIs(t, err, ErrNoTask)
}

func TestAuthorizeDropsTask(t *testing.T) {
	sess := state.NewSession()
	_, err := Begin(sess, TaskSignUp)
	require.NoError(t, err)

	require.NoError(t, Authorize(sess, wallet.Tokens{AccessToken: "a", RefreshToken: "r"}))
	assert.Equal(t, StateWorkProcess, sess.State)
	assert.True(t, LoggedIn(sess))
	assert.False(t, sess.Has(KeyTask))
	assert.False(t, sess.Has(KeyFields))

	tokens, err := Tokens(sess)
	require.NoError(t, err)
	assert.Equal(t, "a", tokens.AccessToken)
}

func TestPendingAction(t *testing.T) {
	sess := state.NewSession()
	_, ok := Pending(sess)
	assert.False(t, ok)

	require.NoError(t, SetPending(sess, ActionDisable2FA))
	got, ok := Pending(sess)
	require.True(t, ok)
	assert.Equal(t, ActionDisable2FA, got)

	_, err := Begin(sess, TaskPasswordChange)
	require.NoError(t, err)
	_, ok = Pending(sess)
	assert.False(t, ok)
}

func TestClearedSessionHasNoTokens(t *testing.T) {
	sess := state.NewSession()
	require.NoError(t, Authorize(sess, wallet.Tokens{AccessToken: "a", RefreshToken: "r"}))
	sess.Clear()

	tokens, err := Tokens(sess)
	require.NoError(t, err)
	assert.True(t, tokens.Empty())
	assert.False(t, LoggedIn(sess))
	assert.Equal(t, state.StateIdle, sess.State)
}
