// Package storage persists fire history so it survives restarts and can be
// inspected with "tickpoll history".
//
// Two drivers exist: "file" (JSON Lines, no database) and "sqlite"
// (modernc.org/sqlite, no cgo). Both keep the last fire time per period
// available without scanning the history.
package storage
