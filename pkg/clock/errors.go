package clock

import "errors"

var errMalformedClock = errors.New("clock: malformed tree (leaf/internal mismatch)")
