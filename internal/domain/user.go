package domain

import (
	"strings"
	"time"
)

// UserRole is the system wide role of a user.
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleManager  UserRole = "manager"
	UserRoleEngineer UserRole = "engineer"
	UserRoleObserver UserRole = "observer"
)

// User is the domain model for people acting on defects.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	MiddleName   string
	PasswordHash string
	Role         UserRole
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName returns "Last First [Middle]", falling back to the email.
func (u User) FullName() string {
	parts := []string{u.LastName, u.FirstName}
	if u.MiddleName != "" {
		parts = append(parts, u.MiddleName)
	}
	name := strings.TrimSpace(strings.Join(parts, " "))
	if name == "" {
		return u.Email
	}
	return name
}
