// internal/transaction/fee_manager.go
package transaction

import (
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// FeeOptions sets the optional compute budget of built transactions.
// Zero values leave the cluster defaults in place.
type FeeOptions struct {
	ComputeUnitLimit uint32
	// ComputeUnitPrice is the priority fee in micro-lamports per compute unit.
	ComputeUnitPrice uint64
}

// priorityInstructions returns the compute budget instructions to prepend.
func (o FeeOptions) priorityInstructions() []solana.Instruction {
	var instructions []solana.Instruction
	if o.ComputeUnitLimit > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitLimitInstruction(o.ComputeUnitLimit).Build())
	}
	if o.ComputeUnitPrice > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitPriceInstruction(o.ComputeUnitPrice).Build())
	}
	return instructions
}
