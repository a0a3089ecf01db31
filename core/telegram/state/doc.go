// Package state provides per-user conversation sessions for Telegram bots.
// A Session is a small key/value record plus the user's FSM state; Store
// implementations keep it in memory, Redis or Postgres and guarantee that
// Update runs as an atomic read-modify-write of the whole record.
package state
