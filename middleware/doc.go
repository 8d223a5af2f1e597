// Package middleware translates HTTP semantics into authcore engine calls:
// cookie-based authentication guards, session validation, CSRF enforcement,
// RBAC permission checks, and a per-IP request throttle.
//
// Each guard reads the request, delegates the decision to the engine (or
// the cookie codec), and injects the outcome into the request context. No
// authentication or authorization logic lives here.
package middleware
