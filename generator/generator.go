// Package generator searches for a Malbolge program that, when run,
// produces a chosen target string. It drives the vm package's
// execution engine step by step, snapshotting state and deciding what
// to try next, rather than just running a program once to completion.
package generator

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/golang/glog"

	"github.com/wallstop/malbolge-go/encoding"
	"github.com/wallstop/malbolge-go/ternary"
	"github.com/wallstop/malbolge-go/vm"
)

// signatureTapeWidth bounds the amount of tape tail folded into a
// search-state signature.
const signatureTapeWidth = 8

// Config controls the generator's search strategy.
type Config struct {
	// OpcodeChoices is the opcode alphabet the search tries at each
	// position, in order.
	OpcodeChoices string
	// MaxSearchDepth is how many rounds of breadth-first widening are
	// attempted before falling back to a random jump.
	MaxSearchDepth int
	// RandomSeed seeds the random source driving depth-limited restarts.
	// Nil means seed from the current time.
	RandomSeed *int64
	// MaxProgramLength bounds the generated opcode sequence.
	MaxProgramLength int
	// CaptureTrace requests a full trace of every candidate considered.
	CaptureTrace bool
}

// DefaultConfig returns a reasonable search policy: the legacy "op*"
// opcode alphabet, a search depth of 5 before a random restart, the
// full address space as the length bound, and no trace capture.
func DefaultConfig() Config {
	return Config{
		OpcodeChoices:    "op*",
		MaxSearchDepth:   5,
		MaxProgramLength: ternary.MaxAddressSpace,
		CaptureTrace:     false,
	}
}

// TraceEvent records one candidate the search considered, present only
// when Config.CaptureTrace is set.
type TraceEvent struct {
	TargetPrefix string
	Candidate    string
	Output       string
	Pruned       bool
	Reason       string
	CacheHit     bool
	Evaluations  int
	CacheHits    int
	Depth        int
}

// Stats summarizes the search effort behind a GenerationResult.
type Stats struct {
	Evaluations         int
	CacheHits           int
	Pruned              int
	RepeatedStatePruned int
	DurationNs          int64
	TraceLength         int
	PrunedRatio         float64
	RepeatedStateRatio  float64
}

// GenerationResult is the outcome of GenerateForString.
type GenerationResult struct {
	Target        string
	Opcodes       string
	MachineOutput string
	Stats         Stats
	Trace         []TraceEvent
}

// MalbolgeProgram reconstructs the printable ASCII Malbolge source that
// decodes to Opcodes, the form a Malbolge interpreter outside this
// module would accept as input.
func (r *GenerationResult) MalbolgeProgram() (string, error) {
	ascii, err := encoding.ReverseNormalize([]byte(r.Opcodes), 0)
	if err != nil {
		return "", err
	}
	return string(ascii), nil
}

// prefixState is a point in the search tree: the opcodes tried so far,
// the output they produced, and the machine state they left behind.
type prefixState struct {
	opcodes string
	output  string
	machine *vm.Machine
}

// searchStats accumulates the raw counters a GenerationResult derives
// its ratios from.
type searchStats struct {
	evaluations         int
	cacheHits           int
	pruned              int
	repeatedStatePruned int
}

// signature is a search-state fingerprint: tape length, accumulator,
// both registers, and a trailing slice of the tape. Two variants are
// used: canonical folds the accumulator mod 256 (what the VM's `<`
// instruction can actually observe), while fallback keeps it raw,
// giving a strictly finer-grained key used to prune exact repeats.
type signature struct {
	length int
	a      int
	c      int
	d      int
	tail   string
}

func tapeTail(tape []int) string {
	width := signatureTapeWidth
	if width > len(tape) {
		width = len(tape)
	}
	if width == 0 {
		return ""
	}
	parts := make([]string, width)
	for i, cell := range tape[len(tape)-width:] {
		parts[i] = strconv.Itoa(cell)
	}
	return strings.Join(parts, ",")
}

func canonicalSignature(m *vm.Machine) signature {
	return signature{length: len(m.Tape), a: m.A % 256, c: m.C, d: m.D, tail: tapeTail(m.Tape)}
}

func fallbackSignature(m *vm.Machine) signature {
	return signature{length: len(m.Tape), a: m.A, c: m.C, d: m.D, tail: tapeTail(m.Tape)}
}

// Generator runs a breadth-first opcode search against an owned
// Interpreter.
type Generator struct {
	interpreter *vm.Interpreter
}

// New constructs a Generator. A nil interpreter gets a fresh
// NewDefaultInterpreter.
func New(interpreter *vm.Interpreter) *Generator {
	if interpreter == nil {
		interpreter = vm.NewDefaultInterpreter()
	}
	return &Generator{interpreter: interpreter}
}

func splitOpcodes(choices string) []string {
	out := make([]string, len(choices))
	for i := 0; i < len(choices); i++ {
		out[i] = string(choices[i])
	}
	return out
}

// GenerateForString searches for a program whose output equals target,
// returning the opcode sequence found and the statistics the search
// accumulated along the way.
func (g *Generator) GenerateForString(target string, cfg Config) (*GenerationResult, error) {
	if target == "" {
		return nil, newError(vm.KindInvalidArgument, "target string must not be empty")
	}

	var seed int64
	if cfg.RandomSeed != nil {
		seed = *cfg.RandomSeed
	} else {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	stats := &searchStats{}
	stateCache := make(map[string]*prefixState)
	deadPrograms := mapset.NewSet()
	seenStates := make(map[signature]int)
	canonicalSignatures := make(map[signature]int)
	signatureCollisions := 0
	var traceEvents []TraceEvent
	startedAt := time.Now()

	bootstrap := "i" + strings.Repeat("o", 99)
	if len(bootstrap) >= cfg.MaxProgramLength {
		return nil, newError(vm.KindMalbolgeRuntime, "bootstrap sequence exceeds maximum program length")
	}

	bootstrapResult, err := g.interpreter.Execute([]byte(bootstrap), vm.ExecuteOptions{CaptureMachine: true})
	if err != nil {
		return nil, wrapError(vm.KindMalbolgeRuntime, "failed to execute bootstrap sequence", err)
	}
	if bootstrapResult.Machine == nil {
		return nil, newError(vm.KindMalbolgeRuntime, "failed to capture machine state for bootstrap sequence")
	}

	state := &prefixState{opcodes: bootstrap, output: bootstrapResult.Output, machine: bootstrapResult.Machine}
	stateCache[state.opcodes] = state
	seenStates[fallbackSignature(state.machine)] = len(state.output)
	canonicalSignatures[canonicalSignature(state.machine)] = len(state.output)

	recordTrace := func(candidate, output string, pruned bool, reason string, cacheHit bool, depth int, targetPrefix string) {
		glog.V(2).Infof("malbolge generator: candidate=%q reason=%s pruned=%v cache_hit=%v depth=%d", candidate, reason, pruned, cacheHit, depth)
		if !cfg.CaptureTrace {
			return
		}
		traceEvents = append(traceEvents, TraceEvent{
			TargetPrefix: targetPrefix,
			Candidate:    candidate,
			Output:       output,
			Pruned:       pruned,
			Reason:       reason,
			CacheHit:     cacheHit,
			Evaluations:  stats.evaluations,
			CacheHits:    stats.cacheHits,
			Depth:        depth,
		})
	}

	for index := 0; index < len(target); index++ {
		found := false
		combinations := splitOpcodes(cfg.OpcodeChoices)
		depth := 0
		targetPrefix := target[:index+1]

		for !found {
			depth++
			for _, candidate := range combinations {
				suffix := candidate + "<"
				programKey := state.opcodes + suffix
				if deadPrograms.Contains(programKey) {
					stats.pruned++
					recordTrace(suffix, "", true, "dead_program_cache", false, depth, targetPrefix)
					continue
				}

				combined, fromCache, err := g.getOrExtendState(state, suffix, cfg, stateCache, stats)
				if err != nil {
					return nil, err
				}

				sig := canonicalSignature(combined.machine)
				fallback := fallbackSignature(combined.machine)
				outputValue := combined.output
				outputLength := len(outputValue)
				knownLength, hasKnown := seenStates[fallback]
				isNewState := !hasKnown || outputLength > knownLength
				prevSigOutput, hasSig := canonicalSignatures[sig]
				isNewBySignature := !hasSig || outputLength > prevSigOutput
				validPrefix := strings.HasPrefix(target, outputValue) && outputLength <= len(target)

				pruned := false
				reason := "candidate_retained"

				switch {
				case validPrefix && outputValue == targetPrefix:
					seenStates[fallback] = maxInt(knownLength, outputLength)
					canonicalSignatures[sig] = maxInt(prevSigOutput, outputLength)
					state = combined
					found = true
					reason = "accepted"
				case !validPrefix:
					stats.pruned++
					deadPrograms.Add(programKey)
					pruned = true
					reason = "prefix_mismatch"
				case !isNewState:
					stats.pruned++
					stats.repeatedStatePruned++
					deadPrograms.Add(programKey)
					delete(stateCache, programKey)
					pruned = true
					reason = "repeated_state"
				default:
					if !isNewBySignature {
						signatureCollisions++
						reason = "signature_collision"
					}
					if !hasKnown || outputLength > knownLength {
						seenStates[fallback] = outputLength
					}
					if !hasSig || outputLength > prevSigOutput {
						canonicalSignatures[sig] = outputLength
					}
				}

				recordTrace(suffix, outputValue, pruned, reason, fromCache, depth, targetPrefix)
				if pruned {
					continue
				}
				if found {
					break
				}
			}

			if found {
				break
			}

			var nextFrontier []string
			for _, base := range combinations {
				for i := 0; i < len(cfg.OpcodeChoices); i++ {
					candidate := base + string(cfg.OpcodeChoices[i])
					candidateKey := state.opcodes + candidate + "<"
					if deadPrograms.Contains(candidateKey) {
						continue
					}
					nextFrontier = append(nextFrontier, candidate)
				}
			}
			combinations = nextFrontier

			if len(combinations) == 0 {
				return nil, newError(vm.KindMalbolgeRuntime, fmt.Sprintf("exhausted opcode search before reaching target prefix %q", targetPrefix))
			}

			if depth >= cfg.MaxSearchDepth {
				var viable []string
				for _, candidate := range combinations {
					if !deadPrograms.Contains(state.opcodes + candidate + "<") {
						viable = append(viable, candidate)
					}
				}
				if len(viable) == 0 {
					combinations = splitOpcodes(cfg.OpcodeChoices)
					depth = 0
					continue
				}

				randomChoice := viable[rng.Intn(len(viable))]
				randomKey := state.opcodes + randomChoice
				randomState, randomFromCache, err := g.getOrExtendState(state, randomChoice, cfg, stateCache, stats)
				if err != nil {
					return nil, err
				}

				randomPruned := false
				randomReason := "random_extension"
				randomSig := canonicalSignature(randomState.machine)
				randomFallback := fallbackSignature(randomState.machine)
				randomOutputLength := len(randomState.output)
				randomKnownLength, randomHasKnown := seenStates[randomFallback]
				randomIsNew := !randomHasKnown || randomOutputLength > randomKnownLength
				randomPrevSig, randomHasSig := canonicalSignatures[randomSig]
				randomIsNewBySignature := !randomHasSig || randomOutputLength > randomPrevSig

				if !randomIsNew {
					stats.pruned++
					stats.repeatedStatePruned++
					delete(stateCache, randomKey)
					randomPruned = true
					randomReason = "repeated_state"
				} else {
					if !randomIsNewBySignature {
						signatureCollisions++
						randomReason = "collision_extension"
					}
					if !randomHasKnown || randomOutputLength > randomKnownLength {
						seenStates[randomFallback] = randomOutputLength
					}
					if !randomHasSig || randomOutputLength > randomPrevSig {
						canonicalSignatures[randomSig] = randomOutputLength
					}
				}

				recordTrace(randomChoice, randomState.output, randomPruned, randomReason, randomFromCache, depth, targetPrefix)
				if randomPruned {
					combinations = splitOpcodes(cfg.OpcodeChoices)
					depth = 0
					continue
				}
				state = randomState
				combinations = splitOpcodes(cfg.OpcodeChoices)
				depth = 0
			}
		}
	}

	finalState, finalFromCache, err := g.getOrExtendState(state, "v", cfg, stateCache, stats)
	if err != nil {
		return nil, err
	}
	finalFallback := fallbackSignature(finalState.machine)
	finalSig := canonicalSignature(finalState.machine)
	finalOutputLength := len(finalState.output)
	seenStates[finalFallback] = finalOutputLength
	if existing, ok := canonicalSignatures[finalSig]; !ok || finalOutputLength > existing {
		canonicalSignatures[finalSig] = finalOutputLength
	}
	recordTrace("v", finalState.output, false, "halt", finalFromCache, 0, target)

	elapsed := time.Since(startedAt)
	totalRepeated := stats.repeatedStatePruned + signatureCollisions
	totalPruned := stats.pruned

	var prunedRatio, repeatedRatio float64
	if stats.evaluations > 0 {
		prunedRatio = float64(totalPruned) / float64(stats.evaluations)
	}
	if totalPruned > 0 {
		repeatedRatio = float64(totalRepeated) / float64(totalPruned)
	}

	return &GenerationResult{
		Target:        target,
		Opcodes:       finalState.opcodes,
		MachineOutput: finalState.output,
		Stats: Stats{
			Evaluations:         stats.evaluations,
			CacheHits:           stats.cacheHits,
			Pruned:              totalPruned,
			RepeatedStatePruned: totalRepeated,
			DurationNs:          elapsed.Nanoseconds(),
			TraceLength:         len(traceEvents),
			PrunedRatio:         prunedRatio,
			RepeatedStateRatio:  repeatedRatio,
		},
		Trace: traceEvents,
	}, nil
}

func (g *Generator) getOrExtendState(state *prefixState, suffix string, cfg Config, cache map[string]*prefixState, stats *searchStats) (*prefixState, bool, error) {
	candidateKey := state.opcodes + suffix
	if cached, ok := cache[candidateKey]; ok {
		stats.cacheHits++
		return cached, true, nil
	}
	extended, err := g.extendState(state, suffix, cfg, stats)
	if err != nil {
		return nil, false, err
	}
	cache[candidateKey] = extended
	return extended, false, nil
}

func (g *Generator) extendState(state *prefixState, suffix string, cfg Config, stats *searchStats) (*prefixState, error) {
	if suffix == "" {
		return state, nil
	}
	if len(state.opcodes)+len(suffix) > cfg.MaxProgramLength {
		return nil, newError(vm.KindMalbolgeRuntime, "generated program exceeds maximum allowed length")
	}

	result, err := g.interpreter.ExecuteFromSnapshot(state.machine, []byte(suffix), vm.ExecuteOptions{CaptureMachine: true})
	if err != nil {
		return nil, wrapError(vm.KindMalbolgeRuntime, "interpreter failed while extending candidate program", err)
	}
	stats.evaluations++
	if result.Machine == nil {
		return nil, newError(vm.KindMalbolgeRuntime, "interpreter failed to capture machine snapshot during extension")
	}

	return &prefixState{
		opcodes: state.opcodes + suffix,
		output:  state.output + result.Output,
		machine: result.Machine,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
