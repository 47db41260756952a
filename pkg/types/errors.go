package types

import "emperror.dev/errors"

// ErrConfigurationInvalid marks malformed rules or contradictory settings
// detected at load time.
const ErrConfigurationInvalid = errors.Sentinel("invalid configuration")
