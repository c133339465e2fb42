package vm

// HaltReason classifies why an execution call stopped producing steps.
type HaltReason string

const (
	HaltOpcode  HaltReason = "halt_opcode"
	ProgramEnd  HaltReason = "program_end"
	HaltUnknown HaltReason = "unknown"
)

// HaltMetadata carries the diagnostics that accumulate around halting
// and jumping, independent of the output the program produced.
type HaltMetadata struct {
	// LastInstruction is the opcode of the last instruction dispatched,
	// or 0 if no instruction executed.
	LastInstruction byte

	// LastJumpTarget is the value of C (for `i`) or D (for `j`) recorded
	// by the most recent jump instruction. HasLastJumpTarget is false if
	// no `i` or `j` instruction ran.
	LastJumpTarget    int
	HasLastJumpTarget bool

	// CycleDetected is true if any state key repeated during this call.
	CycleDetected bool

	// CycleTrackingLimited is true if the cycle-detection map reached
	// its configured capacity and stopped recording new keys.
	CycleTrackingLimited bool

	// CycleRepeatLength is steps-between the first and second
	// occurrence of the first key found to repeat. It is only
	// meaningful when CycleDetected is true.
	CycleRepeatLength int
}

// ExecutionResult is the outcome of a single Execute / Run /
// ResumeExecution / ExecuteFromSnapshot call.
type ExecutionResult struct {
	Output           string
	Halted           bool
	Steps            int
	HaltReason       HaltReason
	Machine          *Machine
	HaltMetadata     HaltMetadata
	MemoryExpansions int
	PeakMemoryCells  int
}
