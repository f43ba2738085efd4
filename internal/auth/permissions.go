package auth

// Built-in role names.
const (
	RoleSuperAdmin   = "SUPER_ADMIN"
	RoleAdmin        = "ADMIN"
	RoleManager      = "MANAGER"
	RoleReceptionist = "RECEPTIONIST"
	RoleTeacher      = "TEACHER"
	RoleFinancial    = "FINANCIAL"
)

// Permission keys understood by the back office.
const (
	PermStudentsCreate = "students:create"
	PermStudentsRead   = "students:read"
	PermStudentsUpdate = "students:update"
	PermStudentsDelete = "students:delete"

	PermUsersCreate = "users:create"
	PermUsersRead   = "users:read"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermClassesCreate = "classes:create"
	PermClassesRead   = "classes:read"
	PermClassesUpdate = "classes:update"
	PermClassesDelete = "classes:delete"

	PermPaymentsCreate = "payments:create"
	PermPaymentsRead   = "payments:read"
	PermPaymentsUpdate = "payments:update"
	PermPaymentsDelete = "payments:delete"

	PermReportsRead = "reports:read"

	PermSettingsRead   = "settings:read"
	PermSettingsUpdate = "settings:update"
)

var BuiltinRoles = []Role{
	{Name: RoleSuperAdmin, Description: "Full system access"},
	{Name: RoleAdmin, Description: "Administrator"},
	{Name: RoleManager, Description: "Manager"},
	{Name: RoleReceptionist, Description: "Receptionist"},
	{Name: RoleTeacher, Description: "Instructor"},
	{Name: RoleFinancial, Description: "Financial"},
}

var BuiltinPermissions = []Permission{
	{Resource: "students", Action: "create", Description: "Register students"},
	{Resource: "students", Action: "read", Description: "View students"},
	{Resource: "students", Action: "update", Description: "Edit students"},
	{Resource: "students", Action: "delete", Description: "Remove students"},
	{Resource: "users", Action: "create", Description: "Create staff accounts"},
	{Resource: "users", Action: "read", Description: "View staff accounts"},
	{Resource: "users", Action: "update", Description: "Edit staff accounts"},
	{Resource: "users", Action: "delete", Description: "Deactivate staff accounts"},
	{Resource: "classes", Action: "create", Description: "Schedule classes"},
	{Resource: "classes", Action: "read", Description: "View classes"},
	{Resource: "classes", Action: "update", Description: "Edit classes"},
	{Resource: "classes", Action: "delete", Description: "Cancel classes"},
	{Resource: "payments", Action: "create", Description: "Record payments"},
	{Resource: "payments", Action: "read", Description: "View payments"},
	{Resource: "payments", Action: "update", Description: "Edit payments"},
	{Resource: "payments", Action: "delete", Description: "Void payments"},
	{Resource: "reports", Action: "read", Description: "View reports"},
	{Resource: "settings", Action: "read", Description: "View settings"},
	{Resource: "settings", Action: "update", Description: "Change settings"},
}

// DefaultGrants is the role→permission mapping seeded on a fresh database.
// SUPER_ADMIN needs no grants; the gate lets it through unconditionally.
var DefaultGrants = map[string][]string{
	RoleAdmin: allPermissionKeys(),
	RoleManager: {
		PermStudentsCreate, PermStudentsRead, PermStudentsUpdate, PermStudentsDelete,
		PermClassesCreate, PermClassesRead, PermClassesUpdate, PermClassesDelete,
		PermPaymentsRead, PermReportsRead, PermUsersRead, PermSettingsRead,
	},
	RoleReceptionist: {
		PermStudentsCreate, PermStudentsRead, PermStudentsUpdate,
		PermClassesRead, PermPaymentsCreate, PermPaymentsRead,
	},
	RoleTeacher: {
		PermClassesRead, PermClassesUpdate, PermStudentsRead,
	},
	RoleFinancial: {
		PermPaymentsCreate, PermPaymentsRead, PermPaymentsUpdate, PermPaymentsDelete,
		PermReportsRead, PermStudentsRead,
	},
}

func allPermissionKeys() []string {
	keys := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		keys = append(keys, p.Key())
	}
	return keys
}
