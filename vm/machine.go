package vm

import (
	"github.com/wallstop/malbolge-go/encoding"
	"github.com/wallstop/malbolge-go/ternary"
)

// Machine is the mutable state a Malbolge program executes against:
// the ternary tape and the three registers. The tape doubles as both
// program and data memory, and after every executed instruction the
// cell at C re-encrypts itself.
type Machine struct {
	Tape   []int
	A      int
	C      int
	D      int
	Halted bool
}

// Reset clears the registers and halted flag without touching the tape.
func (m *Machine) Reset() {
	m.A = 0
	m.C = 0
	m.D = 0
	m.Halted = false
}

// LoadTape replaces the tape with the code points of asciiTape and
// resets the machine. It returns an error if the tape would exceed the
// maximum addressable space.
func (m *Machine) LoadTape(asciiTape []byte) error {
	if len(asciiTape) > ternary.MaxAddressSpace {
		return newError(KindMalbolgeRuntime, "program exceeds maximum addressable tape size")
	}
	tape := make([]int, len(asciiTape))
	for i, b := range asciiTape {
		tape[i] = int(b)
	}
	m.Tape = tape
	m.Reset()
	return nil
}

// Copy returns an independent deep copy of m. The copy shares no slice
// backing array with m, so mutating one never affects the other. This
// is the snapshot primitive the generator relies on to fork search
// states cheaply.
func (m *Machine) Copy() *Machine {
	tape := make([]int, len(m.Tape))
	copy(tape, m.Tape)
	return &Machine{Tape: tape, A: m.A, C: m.C, D: m.D, Halted: m.Halted}
}

// encryptCurrentCell re-encrypts tape[m.C] through EncryptionTranslate,
// the post-execution step every instruction performs regardless of
// which opcode it executed.
func (m *Machine) encryptCurrentCell() {
	cellValue := m.Tape[m.C]
	if cellValue >= 33 && cellValue <= 126 {
		m.Tape[m.C] = int(encoding.EncryptionTranslate[cellValue-33])
	}
}
