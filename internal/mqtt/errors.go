package mqtt

import (
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Transport failures, matched by callers with errors.Is. Everything except
// ErrFatal is worth retrying.
var (
	// ErrNotConnected means there is no broker session right now.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrRejected means the broker or network refused the message.
	ErrRejected = errors.New("mqtt: publish rejected")

	// ErrWriteTimeout means the broker did not acknowledge the message in
	// time.
	ErrWriteTimeout = errors.New("mqtt: publish timeout")

	// ErrFatal marks failures retrying cannot fix for this process
	// lifetime, such as refused credentials. Callers escalate instead of
	// retrying.
	ErrFatal = errors.New("mqtt: fatal transport failure")
)

// CONNACK refusals that no retry will change.
var fatalConnectErrors = []error{
	packets.ErrorRefusedBadProtocolVersion,
	packets.ErrorRefusedIDRejected,
	packets.ErrorRefusedBadUsernameOrPassword,
	packets.ErrorRefusedNotAuthorised,
}

func isFatal(err error) bool {
	for _, fatal := range fatalConnectErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}

// classify maps library errors onto the transport taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isFatal(err):
		return fmt.Errorf("%w: %v", ErrFatal, err)
	case errors.Is(err, mqtt.ErrNotConnected):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
}
