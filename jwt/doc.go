// Package jwt mints and validates the portal's signed tokens: short-lived
// access tokens that carry enough claims for in-process authorization, and
// long-lived refresh tokens that deliberately carry nothing but the user id
// and a type marker, so a stale refresh token can never smuggle elevated
// claims past a changed user record.
package jwt
