package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stayware/cohost-platform/internal/conversation"
)

// DeliveryError wraps a failed platform send with a retryability verdict.
// Permanent failures (rejected payloads, revoked credentials) stop the retry
// loop immediately; everything else is worth another attempt.
type DeliveryError struct {
	Platform   conversation.Platform
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("dispatch: %s delivery failed (%s, status %d): %v", e.Platform, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch: %s delivery failed (%s): %v", e.Platform, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a delivery failure that retrying cannot
// fix.
func IsPermanent(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr) && deliveryErr.Permanent
}

// classifyStatus maps an HTTP status to a retry verdict. 429 and 408 are
// transient despite being 4xx; other 4xx mean the request itself is bad.
func classifyStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return false
	}
	return status >= 400 && status < 500
}
