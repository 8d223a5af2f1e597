// Package session tracks authenticated browser/device contexts
// independently of token validity. A Store implementation owns the session
// records for their whole lifetime: created at login, touched on every
// validated request, soft-deleted on logout or timeout, and hard-deleted by
// the periodic Janitor sweep once the retention window has passed.
//
// Two backends ship with the portal: MemoryStore for single-instance
// deployments and RedisStore for multi-instance ones. Both are injected as
// plain dependencies; nothing in this package is a process-wide singleton.
package session
