// Package audit carries security-relevant portal events (logins, step-up
// challenges, session lifecycle, permission denials) from the engine to a
// caller-supplied sink without blocking request handling.
//
// The package owns buffering and delivery only. Deciding which events exist
// and when to emit them is the engine's job; filtering them is the sink's.
package audit
