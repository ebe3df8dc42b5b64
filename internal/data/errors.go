package data

import "errors"

// ErrBalanceCorrupt is returned when a summed ledger does not parse as an integer.
var ErrBalanceCorrupt = errors.New("stored balance is not a valid integer")
