package permission

import (
	"errors"
	"sort"
)

// Role is one of the portal's closed set of account roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

// Resource names a protected part of the portal.
type Resource string

const (
	ResourceUsers          Resource = "users"
	ResourceNews           Resource = "news"
	ResourceDocuments      Resource = "documents"
	ResourceEstablishments Resource = "establishments"
	ResourceSessions       Resource = "sessions"
	ResourceSettings       Resource = "settings"
)

// Action names an operation on a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
	ActionManage  Action = "manage"
)

// Role hierarchy levels. "Can manage role" derives from strict level
// comparison, never from per-feature string checks.
var roleLevels = map[Role]int{
	RoleAdmin:  100,
	RoleEditor: 60,
	RoleAuthor: 40,
	RoleViewer: 10,
}

// Matrix is the immutable role→resource→action grant table. Build it with
// [New] + [Matrix.Grant], then [Matrix.Freeze]; queries after Freeze need
// no synchronization because the table is never written again.
type Matrix struct {
	grants map[Role]map[Resource]map[Action]struct{}
	frozen bool
}

// New returns an empty, unfrozen matrix.
func New() *Matrix {
	return &Matrix{grants: make(map[Role]map[Resource]map[Action]struct{})}
}

// Grant adds actions for a role on a resource. Granting to an unknown role
// or after Freeze returns an error; policy bugs should fail loudly at boot.
func (m *Matrix) Grant(role Role, resource Resource, actions ...Action) error {
	if m.frozen {
		return errors.New("permission matrix frozen")
	}
	if _, ok := roleLevels[role]; !ok {
		return errors.New("unknown role: " + string(role))
	}
	byResource, ok := m.grants[role]
	if !ok {
		byResource = make(map[Resource]map[Action]struct{})
		m.grants[role] = byResource
	}
	byAction, ok := byResource[resource]
	if !ok {
		byAction = make(map[Action]struct{})
		byResource[resource] = byAction
	}
	for _, a := range actions {
		byAction[a] = struct{}{}
	}
	return nil
}

// Freeze marks the matrix read-only. Must be called before concurrent use.
func (m *Matrix) Freeze() {
	m.frozen = true
}

// Frozen reports whether the matrix has been frozen.
func (m *Matrix) Frozen() bool {
	return m.frozen
}

// Has reports whether the role may perform the action on the resource.
func (m *Matrix) Has(role Role, resource Resource, action Action) bool {
	byResource, ok := m.grants[role]
	if !ok {
		return false
	}
	byAction, ok := byResource[resource]
	if !ok {
		return false
	}
	_, ok = byAction[action]
	return ok
}

// ActionsFor returns the role's allowed actions on a resource, sorted.
// Surfaced in authorization-denied responses for operability.
func (m *Matrix) ActionsFor(role Role, resource Resource) []string {
	byResource, ok := m.grants[role]
	if !ok {
		return nil
	}
	byAction, ok := byResource[resource]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byAction))
	for a := range byAction {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// Level returns the numeric hierarchy level of a role; unknown roles are 0.
func Level(role Role) int {
	return roleLevels[role]
}

// Valid reports whether the role belongs to the closed role set.
func Valid(role Role) bool {
	_, ok := roleLevels[role]
	return ok
}

// Roles returns the closed role set sorted by descending hierarchy level.
func Roles() []Role {
	out := make([]Role, 0, len(roleLevels))
	for r := range roleLevels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return roleLevels[out[i]] > roleLevels[out[j]] })
	return out
}

// CanManageRole reports whether the actor's hierarchy level is strictly
// greater than the target's. Equal levels cannot manage each other, so an
// admin cannot demote a fellow admin.
func CanManageRole(actor, target Role) bool {
	actorLevel, ok := roleLevels[actor]
	if !ok {
		return false
	}
	targetLevel, ok := roleLevels[target]
	if !ok {
		return false
	}
	return actorLevel > targetLevel
}

// CanEditContent composes the role check with an ownership test:
// administrators may edit anything, everyone else only their own content.
func CanEditContent(role Role, actorID, ownerID string) bool {
	if role == RoleAdmin {
		return true
	}
	return actorID != "" && actorID == ownerID
}

// CanDeleteContent mirrors CanEditContent; deletion follows the same
// ownership rule with an admin bypass.
func CanDeleteContent(role Role, actorID, ownerID string) bool {
	if role == RoleAdmin {
		return true
	}
	return actorID != "" && actorID == ownerID
}

// Default returns the portal's static policy, frozen and ready for use.
//
// Viewer reads public content; authors write but cannot publish; editors
// run the newsroom; admins additionally manage users, sessions, and
// settings.
func Default() *Matrix {
	m := New()

	contentResources := []Resource{ResourceNews, ResourceDocuments, ResourceEstablishments}

	for _, res := range contentResources {
		mustGrant(m, RoleViewer, res, ActionRead)
		mustGrant(m, RoleAuthor, res, ActionCreate, ActionRead, ActionUpdate)
		mustGrant(m, RoleEditor, res, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish)
		mustGrant(m, RoleAdmin, res, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish, ActionManage)
	}

	mustGrant(m, RoleEditor, ResourceUsers, ActionRead)
	mustGrant(m, RoleAdmin, ResourceUsers, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage)

	mustGrant(m, RoleAdmin, ResourceSessions, ActionRead, ActionDelete, ActionManage)
	mustGrant(m, RoleAdmin, ResourceSettings, ActionRead, ActionUpdate, ActionManage)

	m.Freeze()
	return m
}

func mustGrant(m *Matrix, role Role, resource Resource, actions ...Action) {
	if err := m.Grant(role, resource, actions...); err != nil {
		panic(err)
	}
}
