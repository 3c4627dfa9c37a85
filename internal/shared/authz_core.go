package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"
)

// Survey-domain permissions gating the record-management screens.
const (
	PermSectorsView = "setores.view"
	PermSectorsEdit = "setores.edit"

	PermBedsView = "leitos.view"
	PermBedsEdit = "leitos.edit"

	PermScalesView = "escalas.view"
	PermScalesEdit = "escalas.edit"

	PermSurveysView = "pesquisas.view"
	PermSurveysEdit = "pesquisas.edit"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
	}
}

// SurveyScopes lists the survey-domain permissions seeded at bootstrap.
func SurveyScopes() []string {
	return []string{
		PermSectorsView,
		PermSectorsEdit,
		PermBedsView,
		PermBedsEdit,
		PermScalesView,
		PermScalesEdit,
		PermSurveysView,
		PermSurveysEdit,
	}
}
