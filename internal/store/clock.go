package store

import "time"

// timeNow is indirected so tests can pin the clock.
var timeNow = func() time.Time { return time.Now().UTC() }
