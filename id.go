package taskbus

import "github.com/ledgerline/taskbus/id"

// ID is the primary identifier type for all taskbus entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
