package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleModify Role = "modify"
	RoleView   Role = "view"
	RoleNone   Role = "none"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleModify:
		return action == ActionRead || action == ActionWrite
	case RoleView:
		return action == ActionRead
	default:
		return false
	}
}

// ValidPermission reports whether a string names a grantable member
// permission. Owner is not grantable; it belongs to the project creator.
func ValidPermission(permission string) bool {
	return permission == string(RoleModify) || permission == string(RoleView)
}

// FromMembership maps a stored membership permission to a Role. Unknown
// values degrade to view rather than widening access.
func FromMembership(permission string) Role {
	switch Role(permission) {
	case RoleModify:
		return RoleModify
	case RoleView:
		return RoleView
	default:
		return RoleView
	}
}
