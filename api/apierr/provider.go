package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"

	"gitlab.com/arcanecrypto/conduit/bitnob"
)

// FromProvider fails the given request with the error matching what went
// wrong at the provider boundary. When the provider rejected the request
// we propagate its status code and attach its raw error body as details,
// transport failures and missing payloads become internal errors.
func FromProvider(c *gin.Context, err error) {
	var reqErr *bitnob.RequestError
	switch {
	case pkgerrors.Cause(err) == bitnob.ErrUnavailable:
		Public(c, http.StatusInternalServerError, ErrProviderUnavailable)
	case errors.As(err, &reqErr):
		PublicWithDetails(c, reqErr.StatusCode, ErrProviderRejected,
			json.RawMessage(reqErr.Body))
	case pkgerrors.Cause(err) == bitnob.ErrNoTransactionData:
		Public(c, http.StatusInternalServerError, ErrProviderNoTransactionData)
	default:
		_ = c.Error(err)
	}
}
