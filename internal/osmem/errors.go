package osmem

import "github.com/pkg/errors"

// ErrNoRoom is returned by MapNear when no candidate address within the
// requested distance bound could be reserved.
var ErrNoRoom = errors.New("osmem: no free region within distance bound")
