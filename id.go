package finledger

import "github.com/xraph/finledger/id"

// ID is the identifier type for engine-generated entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Key is the 32-byte identifier of on-chain entities such as invoices.
type Key = id.Key

// ParseKey parses a 0x-prefixed hex key.
var ParseKey = id.ParseKey
