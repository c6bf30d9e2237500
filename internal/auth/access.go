package auth

import (
	"context"
	"errors"

	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/types"
)

// AccessResolver answers whether an identity may view a document and which
// role it holds there.
type AccessResolver interface {
	CanView(ctx context.Context, doc types.Document, user types.User) (bool, error)
	ResolveRole(ctx context.Context, doc types.Document, user types.User) (types.Role, error)
}

// CollaboratorAccess resolves roles from document ownership and the explicit
// collaborator grants table.
type CollaboratorAccess struct {
	grants store.Collaborators
}

// NewCollaboratorAccess constructs the default access resolver.
func NewCollaboratorAccess(grants store.Collaborators) *CollaboratorAccess {
	return &CollaboratorAccess{grants: grants}
}

// ResolveRole returns OWNER for the owning account, an explicit collaborator
// role when granted, and the empty role otherwise.
func (a *CollaboratorAccess) ResolveRole(ctx context.Context, doc types.Document, user types.User) (types.Role, error) {
	if doc.OwnerID != 0 && doc.OwnerID == user.ID {
		return types.RoleOwner, nil
	}
	role, err := a.grants.RoleFor(ctx, doc.ID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// CanView reports whether the user may open the document at all. Public
// documents are viewable by any authenticated user.
func (a *CollaboratorAccess) CanView(ctx context.Context, doc types.Document, user types.User) (bool, error) {
	if doc.IsPublic {
		return true, nil
	}
	role, err := a.ResolveRole(ctx, doc, user)
	if err != nil {
		return false, err
	}
	return role.CanView(), nil
}
