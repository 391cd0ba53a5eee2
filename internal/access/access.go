// Package access holds the role capability table and the task visibility
// rule shared by task reads, audit queries and bulk permission checks.
package access

import (
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/models"
)

// Scope is how much of the task table a role can read.
type Scope int

const (
	// ScopeAssigned sees tasks the user created or is assigned to.
	ScopeAssigned Scope = iota
	// ScopeTeam additionally sees tasks assigned to members of the
	// role's team.
	ScopeTeam
	// ScopeAll sees every task.
	ScopeAll
)

// Capabilities is what a role may do.
type Capabilities struct {
	CanCreateTask        bool
	CanAssign            bool
	CanUpdateAnyStatus   bool
	CanBulkOperate       bool
	CanBulkDelete        bool
	CanSendNotifications bool
	CanListAssignments   bool
	Scope                Scope
	// Team lists the roles whose assignments fall under ScopeTeam.
	Team []models.Role
}

var table = map[models.Role]Capabilities{
	models.RoleClerk: {Scope: ScopeAssigned},
	models.RoleATM:   {Scope: ScopeAssigned},
	models.RoleATL: {
		CanCreateTask:      true,
		CanAssign:          true,
		CanUpdateAnyStatus: true,
		CanBulkOperate:     true,
		CanListAssignments: true,
		Scope:              ScopeTeam,
		Team:               []models.Role{models.RoleClerk, models.RoleATM},
	},
	models.RoleSupervisor: {
		CanCreateTask:        true,
		CanAssign:            true,
		CanUpdateAnyStatus:   true,
		CanBulkOperate:       true,
		CanBulkDelete:        true,
		CanSendNotifications: true,
		CanListAssignments:   true,
		Scope:                ScopeAll,
	},
}

// For returns the capabilities of role. Unknown roles get nothing.
func For(role models.Role) Capabilities {
	return table[role]
}

// InTeam reports whether role belongs to the team overseen by lead.
func InTeam(lead, role models.Role) bool {
	for _, r := range For(lead).Team {
		if r == role {
			return true
		}
	}
	return false
}

// CanViewTask applies the read rule to a task whose Assignees are loaded.
func CanViewTask(user *models.User, task *models.Task) bool {
	if user == nil || task == nil {
		return false
	}
	caps := For(user.Role)
	if caps.Scope == ScopeAll || task.CreatedByID == user.ID || task.HasAssignee(user.ID) {
		return true
	}
	if caps.Scope == ScopeTeam {
		for _, a := range task.Assignees {
			if InTeam(user.Role, a.Role) {
				return true
			}
		}
	}
	return false
}

// CanTransition reports whether user may change the status of task.
func CanTransition(user *models.User, task *models.Task) bool {
	if user == nil || task == nil {
		return false
	}
	return For(user.Role).CanUpdateAnyStatus || task.CreatedByID == user.ID || task.HasAssignee(user.ID)
}

// VisibleTasks is a gorm scope restricting a query on the tasks table to
// what user may read.
func VisibleTasks(user *models.User) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		caps := For(user.Role)
		switch caps.Scope {
		case ScopeAll:
			return q
		case ScopeTeam:
			return q.Where(
				"tasks.created_by_id = ? OR tasks.id IN (?) OR tasks.id IN (?)",
				user.ID,
				assignedTo(q, user.ID),
				assignedToRoles(q, caps.Team),
			)
		default:
			return q.Where("tasks.created_by_id = ? OR tasks.id IN (?)", user.ID, assignedTo(q, user.ID))
		}
	}
}

// VisibleTaskIDs returns a subquery selecting the ids of tasks user may read.
func VisibleTaskIDs(conn *gorm.DB, user *models.User) *gorm.DB {
	return conn.Session(&gorm.Session{NewDB: true}).
		Model(&models.Task{}).
		Select("tasks.id").
		Scopes(VisibleTasks(user))
}

func assignedTo(q *gorm.DB, userID uint) *gorm.DB {
	return q.Session(&gorm.Session{NewDB: true}).
		Table("task_assignees").
		Select("task_id").
		Where("user_id = ?", userID)
}

func assignedToRoles(q *gorm.DB, roles []models.Role) *gorm.DB {
	return q.Session(&gorm.Session{NewDB: true}).
		Table("task_assignees").
		Select("task_assignees.task_id").
		Joins("JOIN users ON users.id = task_assignees.user_id").
		Where("users.role IN ?", roles)
}
