// Package teletest provides a tele.Context double for handler and middleware tests.
package teletest

import (
	"sync"

	tele "gopkg.in/telebot.v4"
)

// Context records what handlers send and answer. Methods it does not
// override panic through the nil embedded tele.Context.
type Context struct {
	tele.Context

	Upd tele.Update

	mu        sync.Mutex
	store     map[string]any
	Sent      []any
	Responses []*tele.CallbackResponse
	SendErr   error
}

// Message returns a context for a private text message from userID.
func Message(updateID int, userID int64, text string) *Context {
	user := &tele.User{ID: userID, Username: "user"}
	return &Context{Upd: tele.Update{
		ID: updateID,
		Message: &tele.Message{
			Sender: user,
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   text,
		},
	}}
}

// Callback returns a context for a button press carrying unique and data.
func Callback(updateID int, userID int64, unique, data string) *Context {
	user := &tele.User{ID: userID}
	msg := &tele.Message{Sender: user, Chat: &tele.Chat{ID: userID, Type: tele.ChatPrivate}}
	return &Context{Upd: tele.Update{
		ID:       updateID,
		Callback: &tele.Callback{ID: "cb", Sender: user, Message: msg, Unique: unique, Data: data},
	}}
}

func (c *Context) Update() tele.Update { return c.Upd }

func (c *Context) Message() *tele.Message {
	switch {
	case c.Upd.Message != nil:
		return c.Upd.Message
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Message
	}
	return nil
}

func (c *Context) Callback() *tele.Callback { return c.Upd.Callback }

func (c *Context) Sender() *tele.User {
	switch {
	case c.Upd.Message != nil:
		return c.Upd.Message.Sender
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Sender
	}
	return nil
}

func (c *Context) Chat() *tele.Chat {
	if m := c.Message(); m != nil {
		return m.Chat
	}
	return nil
}

func (c *Context) Text() string {
	if m := c.Upd.Message; m != nil {
		return m.Text
	}
	return ""
}

func (c *Context) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[key]
}

func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string]any)
	}
	c.store[key] = val
}

func (c *Context) Send(what any, opts ...any) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, what)
	return nil
}

func (c *Context) Respond(resp ...*tele.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(resp) == 0 {
		resp = []*tele.CallbackResponse{{}}
	}
	c.Responses = append(c.Responses, resp[0])
	return nil
}

// SentTexts returns every string passed to Send.
func (c *Context) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.Sent {
		if text, ok := s.(string); ok {
			out = append(out, text)
		}
	}
	return out
}
