package workq

import "github.com/ygrebnov/errorc"

// protocolViolation builds the error returned for a broken queue protocol.
// Builds tagged workq_strict panic instead, so violations surface at the call site.
func protocolViolation(msg string) error {
	err := errorc.With(ErrProtocolViolation, errorc.String("op", msg))
	if strictProtocol {
		panic(err)
	}
	return err
}
