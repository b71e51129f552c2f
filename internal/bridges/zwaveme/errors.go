package zwaveme

import "errors"

// Domain errors for the Z-Wave.Me bridge package.
var (
	// ErrNotConnected is returned when a request is issued while no
	// websocket to the hub is open.
	ErrNotConnected = errors.New("zwaveme: not connected to hub")

	// ErrConnectionFailed is returned when dialling the hub fails.
	ErrConnectionFailed = errors.New("zwaveme: connection to hub failed")

	// ErrConnectionLost is returned by a transport whose socket dropped.
	ErrConnectionLost = errors.New("zwaveme: connection to hub lost")

	// ErrConnectTimeout is returned when the hub socket did not open in time.
	ErrConnectTimeout = errors.New("zwaveme: timed out waiting for hub connection")

	// ErrClosed is returned by operations on a closed manager or transport.
	ErrClosed = errors.New("zwaveme: closed")

	// ErrInvalidFrame is returned when an inbound frame cannot be decoded.
	ErrInvalidFrame = errors.New("zwaveme: invalid frame")

	// ErrMissingBody is returned when an encapsulated response has no body.
	ErrMissingBody = errors.New("zwaveme: response body missing")

	// ErrInvalidLevel is returned when a level cannot be read as a number.
	ErrInvalidLevel = errors.New("zwaveme: invalid level")

	// ErrInvalidCommand is returned when a command cannot be mapped to a
	// hub command path.
	ErrInvalidCommand = errors.New("zwaveme: invalid command")

	// ErrHandlerPanic is returned when a frame handler or sink panicked.
	ErrHandlerPanic = errors.New("zwaveme: frame handler panic")
)
