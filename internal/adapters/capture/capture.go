package capture

import "errors"

// ErrNoMicrophone is returned when no usable audio input exists or the
// platform has no capture support built in.
var ErrNoMicrophone = errors.New("no usable microphone")
