package reassembly

import "errors"

// ErrBudgetExhausted signals that DataReassembler.Next has yielded
// readBudget objects in the current turn and the caller should requeue
// itself rather than keep reading synchronously.
var ErrBudgetExhausted = errors.New("reassembly: read budget exhausted, requeue")
