package types

import (
	"strconv"
	"strings"
	"time"
)

// DocumentID identifies a stored document.
type DocumentID int64

// String renders the identifier for log fields and metric labels.
func (id DocumentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ClientID is the caller-supplied logical identity of a connected editor.
type ClientID string

// Role governs which collaboration messages a session may issue.
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleEditor    Role = "EDITOR"
	RoleViewer    Role = "VIEWER"
	RoleCommenter Role = "COMMENTER"
)

// StatusActive is the only document status admitted to collaboration.
const StatusActive = "ACTIVE"

// Normalize upper-cases a role so stored values compare predictably.
func (r Role) Normalize() Role {
	return Role(strings.ToUpper(string(r)))
}

// CanEdit reports whether the role may mutate document content.
func (r Role) CanEdit() bool {
	switch r.Normalize() {
	case RoleOwner, RoleEditor:
		return true
	}
	return false
}

// CanView reports whether the role grants read access at all.
func (r Role) CanView() bool {
	switch r.Normalize() {
	case RoleOwner, RoleEditor, RoleViewer, RoleCommenter:
		return true
	}
	return false
}

// Document is the persisted record the collaboration core reads once at
// room creation and writes back through the save scheduler.
type Document struct {
	ID             DocumentID
	Title          string
	Content        string
	Version        int64
	Status         string
	OwnerID        int64
	IsPublic       bool
	ShareEnabled   bool
	ShareTokenHash string
	ShareRole      Role
	LastModified   time.Time
}

// User is a registered account resolved from a bearer token.
type User struct {
	ID       int64
	Username string
	FullName string
}

// DisplayName prefers the full name, falling back to the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// RoomUser is the per-session projection broadcast in presence updates
// and join acknowledgements.
type RoomUser struct {
	ClientID ClientID `json:"clientId"`
	Name     string   `json:"name"`
	Color    string   `json:"color"`
	Role     Role     `json:"role"`
}
