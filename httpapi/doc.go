// Package httpapi exposes the portal's authentication endpoints over
// net/http:
//
//	POST /auth/login       credential + optional second factor
//	POST /auth/refresh     token rotation from the refresh cookie
//	POST /auth/logout      invalidate the current session
//	POST /auth/logout-all  invalidate every session of the caller
//	GET  /auth/sessions    list the caller's active sessions
//
// Handlers translate engine errors into the portal's JSON error taxonomy;
// backend failures are logged in full and surfaced as generic 500s.
package httpapi
