package workload

import (
	"fmt"
	"math/rand/v2"
)

// Operation is one kind of workload step.
type Operation int

const (
	OpGlobalRead Operation = iota
	OpGlobalWrite
	OpDatabaseRead
	OpDatabaseWrite
	OpDatabaseX
	OpCollectionRead
	OpCollectionWrite
	OpMutex
	OpTempRelease

	opCount
)

var operationNames = [opCount]string{
	OpGlobalRead:      "global_read",
	OpGlobalWrite:     "global_write",
	OpDatabaseRead:    "database_read",
	OpDatabaseWrite:   "database_write",
	OpDatabaseX:       "database_exclusive",
	OpCollectionRead:  "collection_read",
	OpCollectionWrite: "collection_write",
	OpMutex:           "mutex",
	OpTempRelease:     "temp_release",
}

func (o Operation) String() string {
	if o >= 0 && o < opCount {
		return operationNames[o]
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// ParseOperation returns the operation with the given name.
func ParseOperation(s string) (Operation, error) {
	for i, name := range operationNames {
		if name == s {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Operations returns every operation kind in order.
func Operations() []Operation {
	ops := make([]Operation, opCount)
	for i := range ops {
		ops[i] = Operation(i)
	}
	return ops
}

// picker draws operations according to a Mix.
type picker struct {
	cumulative [opCount]int
	total      int
}

func newPicker(m Mix) picker {
	var p picker
	for i, w := range m.weights() {
		p.total += w
		p.cumulative[i] = p.total
	}
	return p
}

func (p picker) pick(rng *rand.Rand) Operation {
	n := rng.IntN(p.total)
	for i, c := range p.cumulative {
		if n < c {
			return Operation(i)
		}
	}
	return opCount - 1
}
