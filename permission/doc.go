// Package permission implements the portal's role-based access control:
// a static role→resource→action matrix, a numeric role hierarchy, and the
// query functions every protected handler consults before acting.
//
// The matrix is built once at startup, frozen, and never mutated at
// runtime; changing policy requires a redeploy, not a live write. After
// Freeze all queries are lock-free reads.
package permission
