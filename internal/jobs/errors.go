package jobs

import "errors"

// ErrSweepInProgress is returned by RunNow while another sweep is running.
var ErrSweepInProgress = errors.New("sweep already in progress")
