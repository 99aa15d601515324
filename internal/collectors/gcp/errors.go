package gcp

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/yairfalse/runport/internal/errors"
)

// classify maps an API failure onto a typed outcome
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return errors.NewOutcomeError(outcomeForStatus(apiErr.Code), err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewOutcomeError(errors.OutcomeTimeout, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.NewOutcomeError(errors.OutcomeCancelled, err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.NewOutcomeError(errors.OutcomeTimeout, err)
		}
		return errors.NewOutcomeError(errors.OutcomeUnavailable, err)
	}

	return errors.NewOutcomeError(errors.OutcomeFailed, err)
}

func outcomeForStatus(code int) errors.Outcome {
	switch {
	case code == http.StatusNotFound:
		return errors.OutcomeNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errors.OutcomePermissionDenied
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return errors.OutcomeUnavailable
	case code == http.StatusGatewayTimeout:
		return errors.OutcomeTimeout
	case code >= 500:
		return errors.OutcomeUnavailable
	default:
		return errors.OutcomeFailed
	}
}
