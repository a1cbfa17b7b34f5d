package auth

import "github.com/c360studio/aibenefits/tracker"

// Action is something a user may attempt.
type Action string

// Actions checked by the API and dashboard.
const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionManage covers users and departments.
	ActionManage Action = "manage"
	// ActionRunSync triggers the roadmap sync by hand.
	ActionRunSync Action = "run_sync"
)

// Can reports whether user may perform action on a record owned by ownerID.
// ownerID is ignored except for MEMBER deletes.
//
//	ADMIN  everything
//	MEMBER read, create, update; delete only what they own
//	GUEST  read
func Can(user *tracker.User, action Action, ownerID string) bool {
	if user == nil {
		return false
	}
	switch user.Role {
	case tracker.RoleAdmin:
		return true
	case tracker.RoleMember:
		switch action {
		case ActionRead, ActionCreate, ActionUpdate:
			return true
		case ActionDelete:
			return ownerID != "" && ownerID == user.ID
		}
		return false
	case tracker.RoleGuest:
		return action == ActionRead
	}
	return false
}

// CanEdit reports whether user may change tracker data at all. Pages use it
// to hide edit controls.
func CanEdit(user *tracker.User) bool {
	return Can(user, ActionUpdate, "")
}
