package nim

import "errors"

// Sentinel errors raised by the adapter pipeline. All are returned
// synchronously by the stage that detects the violation; none are retried or
// suppressed internally, and no partial results accompany them.
var (
	// ErrMissingInput means the input carried neither base64_image nor base64_images.
	ErrMissingInput = errors.New("nim: input requires base64_image or base64_images")
	// ErrInvalidInputType means base64_images was present but not a list of strings.
	ErrInvalidInputType = errors.New("nim: base64_images must be a list of strings")
	// ErrUnsupportedProtocol means the protocol selector was neither grpc nor http.
	ErrUnsupportedProtocol = errors.New("nim: unsupported protocol")
	// ErrShapeMismatch means images with differing (H, W, C) were batched for the binary protocol.
	ErrShapeMismatch = errors.New("nim: images must share identical dimensions for batching")
	// ErrEmptyInput means Format received no images for the binary protocol.
	ErrEmptyInput = errors.New("nim: no images to format")
	// ErrPrecondition means Format ran before Prepare populated the image list.
	ErrPrecondition = errors.New("nim: prepare must run before format")
	// ErrMalformedResponse means the reply did not match the protocol's expected shape.
	ErrMalformedResponse = errors.New("nim: malformed inference response")
)
