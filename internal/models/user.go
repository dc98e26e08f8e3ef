package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleChefDept   UserRole = "CHEF_DEPT"
	RoleEnseignant UserRole = "ENSEIGNANT"
	RoleApprenant  UserRole = "APPRENANT"
)

// MatriculePrefix returns the two-letter matricule prefix for a role.
// Unknown roles fall back to the generic US prefix.
func MatriculePrefix(role UserRole) string {
	switch role {
	case RoleSuperAdmin:
		return "SA"
	case RoleAdmin:
		return "AD"
	case RoleChefDept:
		return "CD"
	case RoleEnseignant:
		return "EN"
	case RoleApprenant:
		return "AP"
	default:
		return "US"
	}
}

// CanReviewCandidatures reports whether the role may approve or reject applications.
func (r UserRole) CanReviewCandidatures() bool {
	return r == RoleSuperAdmin || r == RoleAdmin || r == RoleChefDept
}

// User represents an application user stored in the utilisateurs table.
type User struct {
	ID              string     `db:"id" json:"id"`
	Matricule       string     `db:"matricule" json:"matricule"`
	Email           string     `db:"email" json:"email"`
	Username        string     `db:"username" json:"username"`
	PasswordHash    string     `db:"password_hash" json:"-"`
	Prenom          string     `db:"prenom" json:"prenom"`
	Nom             string     `db:"nom" json:"nom"`
	Role            UserRole   `db:"role" json:"role"`
	EtablissementID *string    `db:"etablissement_id" json:"etablissement_id,omitempty"`
	Active          bool       `db:"active" json:"active"`
	LastLogin       *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName renders the display name used in notifications and audit entries.
func (u *User) FullName() string {
	return u.Prenom + " " + u.Nom
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// AccountOutcome describes how a learner account materialisation ended, so
// callers (webhook ingestion in particular) can decide whether to retry.
type AccountOutcome string

const (
	AccountCreatedNew      AccountOutcome = "CREATED_NEW"
	AccountReusedExisting  AccountOutcome = "REUSED_EXISTING"
	AccountFailedTransient AccountOutcome = "FAILED_TRANSIENT"
	AccountFailedPermanent AccountOutcome = "FAILED_PERMANENT"
)
