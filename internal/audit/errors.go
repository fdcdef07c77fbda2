package audit

import "errors"

// ErrAppend is returned when the audit log rejects an entry.
var ErrAppend = errors.New("append audit entry")
