package httpx

import (
	"errors"
	"net/http"

	"github.com/vitalis-health/vitalis/internal/rbac"
	"github.com/vitalis-health/vitalis/internal/shared"
)

// Sentinel errors for the handler layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps engine and handler errors to HTTP responses.
//
// Invariant violations carry which rule refused the mutation so the client
// can render a field-level message. Plain gate failures never reach here;
// the middleware answers those with a bare 403 that leaks nothing about the
// permission taxonomy.
func RespondError(w http.ResponseWriter, err error) {
	var v *rbac.InvariantViolation
	switch {
	case errors.As(err, &v):
		Problem(w, http.StatusUnprocessableEntity, violationTitle(v), v.Error())
	case errors.Is(err, rbac.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, rbac.ErrDuplicateSlug):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func violationTitle(v *rbac.InvariantViolation) string {
	switch {
	case errors.Is(v, rbac.ErrSelfDemotion):
		return "Self Demotion Refused"
	case errors.Is(v, rbac.ErrProtectedAccount):
		return "Protected Account"
	case errors.Is(v, rbac.ErrUnauthorizedAdminGrant):
		return "Unauthorized Admin Grant"
	default:
		return "Invariant Violation"
	}
}
