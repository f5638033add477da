package storage

import (
	"errors"

	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether the caller may fetch an object such as a
// return evidence photo. Owners see their own uploads; staff and admin roles
// see everything. Anonymous access is only granted when the object was
// explicitly published.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	switch {
	case allowAnonymous:
		return nil
	case identity == nil:
		return ErrPermissionDenied
	case ownerID != "" && identity.UID == ownerID:
		return nil
	case identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin):
		return nil
	default:
		return ErrPermissionDenied
	}
}
