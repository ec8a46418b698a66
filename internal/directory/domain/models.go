package domain

type Role string

const (
	RoleGestor             Role = "gestor"
	RoleOfficeDirector     Role = "office_director"
	RoleCommercialDirector Role = "commercial_director"
	RoleSuperadmin         Role = "superadmin"
	RoleCommercialManager  Role = "commercial_manager"
)

type Profile struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Office   *string `json:"office,omitempty"`
}

// OfficeName returns the profile office or "" when unassigned.
func (p Profile) OfficeName() string {
	if p.Office == nil {
		return ""
	}
	return *p.Office
}
