package dtls

import (
	"fmt"

	pionalert "github.com/pion/dtls/v3/pkg/protocol/alert"
)

// Alert is a fatal DTLS alert raised during the handshake. Every failure
// path in the driver is required to terminate with one of these (spec.md
// §7): the description values are bit-exact per RFC 5246 §7.2, sourced
// from the pion/dtls alert vocabulary rather than re-declared locally.
type Alert struct {
	Description pionalert.Description
	Cause       error
}

func (a *Alert) Error() string {
	if a.Cause != nil {
		return fmt.Sprintf("dtls: fatal alert %s: %v", a.Description, a.Cause)
	}
	return fmt.Sprintf("dtls: fatal alert %s", a.Description)
}

func (a *Alert) Unwrap() error { return a.Cause }

func newAlert(d pionalert.Description, cause error) *Alert {
	return &Alert{Description: d, Cause: cause}
}

func alertUnexpectedMessage(cause error) *Alert {
	return newAlert(pionalert.UnexpectedMessage, cause)
}

func alertDecodeError(cause error) *Alert {
	return newAlert(pionalert.DecodeError, cause)
}

func alertHandshakeFailure(cause error) *Alert {
	return newAlert(pionalert.HandshakeFailure, cause)
}

func alertIllegalParameter(cause error) *Alert {
	return newAlert(pionalert.IllegalParameter, cause)
}

func alertInternalError(cause error) *Alert {
	return newAlert(pionalert.InternalError, cause)
}

func alertDecryptError(cause error) *Alert {
	return newAlert(pionalert.DecryptError, cause)
}

// toWire renders the two-byte fatal-alert record fragment (RFC 5246 §7.2:
// AlertLevel + AlertDescription).
func (a *Alert) toWire() []byte {
	return []byte{byte(pionalert.Fatal), byte(a.Description)}
}
