// Package rate throttles login attempts with fixed-window counters keyed by
// username and, optionally, by client IP. Counters record failures only; a
// successful login resets them so legitimate users are never locked out by
// their own typos.
//
// Redis keys use INCR plus a conditional EXPIRE on the first hit in the
// window:
//   - la:u: — login failures per username
//   - la:i: — login failures per IP
package rate
