package domain

// RoleAdmin marks users allowed to pay on behalf of any phone number.
const RoleAdmin = "admin"

// UserRecord is the profile kept by the credentials directory.
type UserRecord struct {
	Username     string
	Name         string
	Email        string
	PhoneNumber  string
	Role         string
	PasswordHash string
}

// IsAdmin reports whether the record carries the administrator role.
func (u UserRecord) IsAdmin() bool {
	return u.Role == RoleAdmin
}
