// Package permission answers "is this permission granted right now?" for the
// dispatcher. Grants are changed out-of-band (CLI, device management); the
// dispatcher only reads them, and every read goes to the backing store.
package permission

import (
	"context"
	"strings"
	"time"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

// Grant is the stored state of one permission.
type Grant struct {
	Permission dispatch.Permission `json:"permission"`
	Granted    bool                `json:"granted"`
	UpdatedAt  time.Time           `json:"updated_at,omitempty"`
}

// Store is a permission backend that can also be mutated.
type Store interface {
	dispatch.PermissionChecker
	Set(ctx context.Context, p dispatch.Permission, granted bool) error
	List(ctx context.Context) ([]Grant, error)
}

// Normalize maps "android.permission.call_phone", "call_phone" and "CALL_PHONE"
// to the same Permission.
func Normalize(name string) dispatch.Permission {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return dispatch.Permission(strings.ToUpper(name))
}

// Static is a fixed set of grants, typically from configuration. Permissions not
// in the map are not granted.
type Static map[dispatch.Permission]bool

// NewStatic builds a Static from config-style names.
func NewStatic(grants map[string]bool) Static {
	s := make(Static, len(grants))
	for name, granted := range grants {
		s[Normalize(name)] = granted
	}
	return s
}

func (s Static) Granted(_ context.Context, p dispatch.Permission) (bool, error) {
	return s[p], nil
}

// Known normalizes name and reports whether it is a permission the dispatcher checks.
func Known(name string) (dispatch.Permission, bool) {
	p := Normalize(name)
	switch p {
	case dispatch.PermissionSendSMS, dispatch.PermissionCallPhone:
		return p, true
	default:
		return p, false
	}
}
