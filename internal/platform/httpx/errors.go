package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// RespondError renders errors the transport layer can classify on its own;
// domain packages map their sentinels to statuses before calling this.
func RespondError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		Problem(w, http.StatusBadRequest, "Validation Failed", validationErrs.Error())
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
