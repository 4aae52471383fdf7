package domain

import "errors"

var ErrNotFound = errors.New("not found")

var (
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrSwarmAdd            = errors.New("swarm add failed")
	ErrSessionLimitReached = errors.New("session limit reached")
	ErrSessionGone         = errors.New("session gone")
)

var (
	ErrInvalidRange        = errors.New("invalid range")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrPieceTimeout        = errors.New("piece wait timed out")
)

// ErrCorruptPiece is returned by the piece store when a payload does not match
// the length dictated by the piece layout.
var ErrCorruptPiece = errors.New("corrupt piece")

// ErrCacheConfig marks a cache budget that cannot hold the pieces it is asked
// to cache. Fatal at startup, local to a session otherwise.
var ErrCacheConfig = errors.New("cache configuration error")
