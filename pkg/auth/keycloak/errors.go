package keycloak

import (
	"context"
	"errors"
	"net/http"

	"github.com/Nerzal/gocloak/v13"
	"golang.org/x/oauth2"

	"github.com/observastack/observastack/pkg/apierrors"
)

// mapError places a gocloak, oauth2 or transport failure in the taxonomy.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if apierrors.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.Wrap(apierrors.KindTimeout, err, message)
	}
	if errors.Is(err, context.Canceled) {
		return apierrors.Wrap(apierrors.KindNetwork, err, message)
	}

	status := 0
	var apiErr *gocloak.APIError
	var retrieveErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &retrieveErr):
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
	default:
		return apierrors.Wrap(apierrors.KindNetwork, err, message)
	}

	kind := apierrors.FromStatus(status)
	switch status {
	case 0:
		kind = apierrors.KindNetwork
	case http.StatusBadRequest:
		// invalid_grant and friends
		kind = apierrors.KindAuthentication
	}
	e := apierrors.Wrap(kind, err, message)
	e.StatusCode = status
	e.StatusText = http.StatusText(status)
	return e
}
