// Package vm implements the Malbolge virtual machine: a ternary,
// self-modifying tape driven by an eight-opcode instruction set and
// three registers. Every failure mode is returned to the caller as a
// *vm.Error rather than logged and aborted, since this is a library
// embedded in someone else's process, not a standalone emulator.
package vm

import (
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/wallstop/malbolge-go/encoding"
	"github.com/wallstop/malbolge-go/ternary"
)

// CycleDetectionDisabled turns off cycle tracking entirely for a call.
const CycleDetectionDisabled = -1

// DefaultCycleDetectionLimit is the default capacity of the
// cycle-detection state map.
const DefaultCycleDetectionLimit = 100000

// Config controls an Interpreter's memory-growth and cycle-detection
// policy. Use DefaultConfig for reasonable defaults.
type Config struct {
	AllowMemoryExpansion bool
	MemoryLimit          int
	CycleDetectionLimit  int
}

// DefaultConfig returns a permissive interpreter configuration: memory
// expansion enabled up to the full address space, cycle detection
// tracking up to 100,000 distinct states.
func DefaultConfig() Config {
	return Config{
		AllowMemoryExpansion: true,
		MemoryLimit:          ternary.MaxAddressSpace,
		CycleDetectionLimit:  DefaultCycleDetectionLimit,
	}
}

// ExecuteOptions carries the per-call parameters of Execute, Run,
// ResumeExecution, and ExecuteFromSnapshot.
type ExecuteOptions struct {
	// InputBuffer feeds the `/` instruction, one byte per call, in order.
	InputBuffer []byte
	// MaxSteps bounds the number of instructions dispatched in this
	// call. Nil means unbounded. The pointee is decremented in place as
	// the budget is consumed, so a caller passing the same pointer
	// across several calls sees it reflect the remaining budget rather
	// than its original value.
	MaxSteps *int
	// CaptureMachine requests a snapshot of machine state in the
	// returned ExecutionResult.
	CaptureMachine bool
}

// Interpreter executes normalized Malbolge opcodes against a single
// owned Machine. A single instance can run multiple programs in
// sequence; Load/Execute/Resume/Snapshot calls on one instance
// serialize behind an internal lock, but distinct instances run fully
// independently.
type Interpreter struct {
	// mu serializes every public entry point. Public methods lock and
	// delegate to an unexported "Locked" method; those never re-lock, so
	// the lock is effectively reentrant from the caller's point of view
	// without needing a true recursive mutex.
	mu            sync.Mutex
	machine       Machine
	programLength int
	config        Config
}

// NewInterpreter constructs an Interpreter with the given policy.
func NewInterpreter(config Config) *Interpreter {
	return &Interpreter{config: config}
}

// NewDefaultInterpreter constructs an Interpreter using DefaultConfig.
func NewDefaultInterpreter() *Interpreter {
	return NewInterpreter(DefaultConfig())
}

// LoadProgram validates and loads an opcode sequence onto the tape,
// resetting registers and diagnostics.
func (ip *Interpreter) LoadProgram(opcodes []byte) error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.loadProgramLocked(opcodes)
}

func (ip *Interpreter) loadProgramLocked(opcodes []byte) error {
	if len(opcodes) == 0 {
		return newError(KindInvalidOpcode, "opcode sequence is empty")
	}
	for _, op := range opcodes {
		if !encoding.IsOpcode(op) {
			return newError(KindInvalidOpcode, "encountered invalid opcode during load")
		}
	}

	asciiTape, err := encoding.ReverseNormalize(opcodes, 0)
	if err != nil {
		return wrapError(KindInvalidProgram, "failed to decode opcodes into ASCII tape", err)
	}
	if err := ip.machine.LoadTape(asciiTape); err != nil {
		return err
	}
	ip.programLength = len(opcodes)
	return nil
}

// Execute loads opcodes and runs them to completion (or until max
// steps / a halt condition), returning the execution outcome.
func (ip *Interpreter) Execute(opcodes []byte, opts ExecuteOptions) (*ExecutionResult, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if err := ip.loadProgramLocked(opcodes); err != nil {
		return nil, err
	}
	return ip.executeLoadedLocked(opts)
}

// Run is a convenience wrapper around Execute that returns only the
// produced output.
func (ip *Interpreter) Run(opcodes []byte, opts ExecuteOptions) (string, error) {
	opts.CaptureMachine = false
	result, err := ip.Execute(opcodes, opts)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// ResumeExecution continues running the currently loaded program from
// wherever the last call left off, picking up register and tape state
// exactly as the previous call left it.
func (ip *Interpreter) ResumeExecution(opts ExecuteOptions) (*ExecutionResult, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.executeLoadedLocked(opts)
}

// ExecuteFromSnapshot forks snapshot into this interpreter's working
// machine, optionally appends suffixOpcodes to the tape, and runs to
// completion. This is the generator's hot path: its cost is
// proportional to the steps the suffix actually takes, not to the
// already-executed prefix.
func (ip *Interpreter) ExecuteFromSnapshot(snapshot *Machine, suffixOpcodes []byte, opts ExecuteOptions) (*ExecutionResult, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	if snapshot == nil {
		return nil, newError(KindMalbolgeRuntime, "snapshot is nil")
	}
	machine := snapshot.Copy()
	prefixLength := len(machine.Tape)
	if len(suffixOpcodes) > 0 {
		asciiSuffix, err := encoding.ReverseNormalize(suffixOpcodes, prefixLength)
		if err != nil {
			return nil, wrapError(KindInvalidProgram, "failed to decode suffix opcodes", err)
		}
		for _, b := range asciiSuffix {
			machine.Tape = append(machine.Tape, int(b))
		}
	}
	ip.machine = *machine
	ip.programLength = prefixLength + len(suffixOpcodes)
	return ip.executeLoadedLocked(opts)
}

// stateKey is the per-step cycle-detection signature: (c, cell-before-
// decoding, a, d).
type stateKey struct {
	c, cellBeforeDecoding, a, d int
}

func (ip *Interpreter) executeLoadedLocked(opts ExecuteOptions) (*ExecutionResult, error) {
	machine := &ip.machine
	machine.Halted = false

	var output strings.Builder
	inputIndex := 0
	stepsExecuted := 0
	haltReason := HaltUnknown
	memoryExpansions := 0
	peakMemoryCells := len(machine.Tape)
	meta := HaltMetadata{}

	var cycleSeen map[stateKey]int
	cycleLimit := ip.config.CycleDetectionLimit
	trackCycles := cycleLimit != CycleDetectionDisabled
	if trackCycles {
		if cycleLimit > 0 {
			cycleSeen = make(map[stateKey]int, cycleLimit)
		} else {
			meta.CycleTrackingLimited = true
		}
	}

	for !machine.Halted {
		if opts.MaxSteps != nil {
			if *opts.MaxSteps <= 0 {
				return nil, newError(KindStepLimitExceeded, "maximum step count exceeded")
			}
			*opts.MaxSteps--
		}
		if machine.C >= ip.programLength {
			machine.Halted = true
			haltReason = ProgramEnd
			break
		}

		expanded, err := ip.ensureCapacityLocked(machine.C)
		if err != nil {
			return nil, err
		}
		memoryExpansions += expanded

		cellBeforeDecoding := machine.Tape[machine.C]
		instruction := instructionAt(machine.Tape, machine.C)

		if trackCycles && cycleLimit > 0 {
			key := stateKey{c: machine.C, cellBeforeDecoding: cellBeforeDecoding, a: machine.A, d: machine.D}
			if firstSeen, ok := cycleSeen[key]; ok {
				if !meta.CycleDetected {
					meta.CycleDetected = true
					meta.CycleRepeatLength = stepsExecuted - firstSeen
				}
			} else if len(cycleSeen) >= cycleLimit {
				meta.CycleTrackingLimited = true
			} else {
				cycleSeen[key] = stepsExecuted
			}
		}

		switch instruction {
		case 'i':
			expanded, err := ip.ensureCapacityLocked(machine.D)
			if err != nil {
				return nil, err
			}
			memoryExpansions += expanded
			machine.C = machine.Tape[machine.D]
			meta.LastJumpTarget = machine.C
			meta.HasLastJumpTarget = true
		case '<':
			output.WriteByte(byte(machine.A % 256))
		case '/':
			if inputIndex >= len(opts.InputBuffer) {
				return nil, newError(KindInputUnderflow, "input instruction encountered with empty buffer")
			}
			machine.A = int(opts.InputBuffer[inputIndex])
			inputIndex++
		case '*':
			expanded, err := ip.ensureCapacityLocked(machine.D)
			if err != nil {
				return nil, err
			}
			memoryExpansions += expanded
			machine.A = ternary.Rotate(machine.Tape[machine.D])
			machine.Tape[machine.D] = machine.A
		case 'j':
			expanded, err := ip.ensureCapacityLocked(machine.D)
			if err != nil {
				return nil, err
			}
			memoryExpansions += expanded
			machine.D = machine.Tape[machine.D]
			meta.LastJumpTarget = machine.D
			meta.HasLastJumpTarget = true
		case 'p':
			expanded, err := ip.ensureCapacityLocked(machine.D)
			if err != nil {
				return nil, err
			}
			memoryExpansions += expanded
			machine.A = ternary.Crazy(machine.A, machine.Tape[machine.D])
			machine.Tape[machine.D] = machine.A
		case 'o':
			// No-op: the generator relies on `o` to advance C and D
			// without touching A or emitting output.
		case 'v':
			machine.Halted = true
			haltReason = HaltOpcode
		default:
			return nil, newError(KindMalbolgeRuntime, "unsupported opcode reached at runtime")
		}
		meta.LastInstruction = instruction

		// `i` may have jumped C somewhere the tape hasn't grown to yet;
		// re-encryption always targets the (possibly just-updated) C.
		expandedForEncrypt, err := ip.ensureCapacityLocked(machine.C)
		if err != nil {
			return nil, err
		}
		memoryExpansions += expandedForEncrypt
		machine.encryptCurrentCell()
		machine.C++
		machine.D++
		stepsExecuted++

		if len(machine.Tape) > peakMemoryCells {
			peakMemoryCells = len(machine.Tape)
		}
	}

	if meta.CycleDetected {
		glog.V(1).Infof("malbolge vm: cycle detected, repeat length %d", meta.CycleRepeatLength)
	}
	if meta.CycleTrackingLimited {
		glog.V(2).Infof("malbolge vm: cycle tracking limited at capacity %d", cycleLimit)
	}

	var snapshot *Machine
	if opts.CaptureMachine {
		snapshot = machine.Copy()
	}

	return &ExecutionResult{
		Output:           output.String(),
		Halted:           machine.Halted,
		Steps:            stepsExecuted,
		HaltReason:       haltReason,
		Machine:          snapshot,
		HaltMetadata:     meta,
		MemoryExpansions: memoryExpansions,
		PeakMemoryCells:  peakMemoryCells,
	}, nil
}

// ensureCapacityLocked grows the tape to cover index, returning the
// number of cells appended. It must be called with ip.mu held.
func (ip *Interpreter) ensureCapacityLocked(index int) (int, error) {
	machine := &ip.machine
	if index < len(machine.Tape) {
		return 0, nil
	}

	if !ip.config.AllowMemoryExpansion {
		return 0, newError(KindMemoryLimitExceeded, "memory expansion is disabled for this interpreter")
	}
	if index >= ip.config.MemoryLimit {
		return 0, newError(KindMemoryLimitExceeded, "memory limit exceeded")
	}

	limit := ip.config.MemoryLimit
	if limit > ternary.MaxAddressSpace {
		limit = ternary.MaxAddressSpace
	}

	appended := 0
	for len(machine.Tape) <= index {
		var next int
		switch len(machine.Tape) {
		case 0:
			next = 0
		case 1:
			next = ternary.Crazy(machine.Tape[0], machine.Tape[0])
		default:
			next = ternary.Crazy(machine.Tape[len(machine.Tape)-2], machine.Tape[len(machine.Tape)-1])
		}
		machine.Tape = append(machine.Tape, next)
		appended++
		glog.V(2).Infof("malbolge vm: expanded tape to %d cells", len(machine.Tape))
		if len(machine.Tape) >= limit {
			break
		}
	}

	if index >= len(machine.Tape) {
		return appended, newError(KindMemoryLimitExceeded, "unable to expand memory to requested index")
	}
	return appended, nil
}

// instructionAt decodes the opcode stored at tape[index], applying the
// position-dependent offset NormalTranslate requires.
func instructionAt(tape []int, index int) byte {
	value := tape[index]
	offset := (value - 33 + index) % len(encoding.NormalTranslate)
	if offset < 0 {
		offset += len(encoding.NormalTranslate)
	}
	return encoding.NormalTranslate[offset]
}
