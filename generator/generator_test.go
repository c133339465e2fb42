package generator

import (
	"reflect"
	"testing"

	"github.com/wallstop/malbolge-go/vm"
)

func generateWithSeed(t *testing.T, target string, seed int64) *GenerationResult {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RandomSeed = &seed
	result, err := New(nil).GenerateForString(target, cfg)
	if err != nil {
		t.Fatalf("GenerateForString(%q): unexpected error: %v", target, err)
	}
	return result
}

func TestGenerateForStringRejectsEmptyTarget(t *testing.T) {
	_, err := New(nil).GenerateForString("", DefaultConfig())
	if !Is(err, vm.KindInvalidArgument) {
		t.Fatalf("GenerateForString(\"\"): err = %v, want invalid_argument", err)
	}
}

func TestGenerateForStringProducesMatchingOutput(t *testing.T) {
	result := generateWithSeed(t, "A", 1234)
	if result.Target != "A" {
		t.Fatalf("Target = %q, want %q", result.Target, "A")
	}
	if result.MachineOutput != "A" {
		t.Fatalf("MachineOutput = %q, want %q", result.MachineOutput, "A")
	}
	if result.Opcodes == "" {
		t.Fatal("Opcodes is empty, want a generated opcode sequence")
	}
	if result.Opcodes[len(result.Opcodes)-1] != 'v' {
		t.Fatalf("Opcodes must end in the halt opcode, got %q", result.Opcodes)
	}
}

func TestGenerateForStringIsDeterministicForFixedSeed(t *testing.T) {
	first := generateWithSeed(t, "Hi", 42)
	second := generateWithSeed(t, "Hi", 42)

	if first.Opcodes != second.Opcodes {
		t.Fatalf("Opcodes differ across runs with the same seed:\n%q\n%q", first.Opcodes, second.Opcodes)
	}
	if first.MachineOutput != second.MachineOutput {
		t.Fatalf("MachineOutput differs across runs with the same seed: %q vs %q", first.MachineOutput, second.MachineOutput)
	}

	firstStats, secondStats := first.Stats, second.Stats
	firstStats.DurationNs, secondStats.DurationNs = 0, 0
	if !reflect.DeepEqual(firstStats, secondStats) {
		t.Fatalf("Stats differ across runs with the same seed (ignoring duration): %+v vs %+v", firstStats, secondStats)
	}
}

func TestGenerationResultMalbolgeProgramRoundTrips(t *testing.T) {
	result := generateWithSeed(t, "A", 7)
	program, err := result.MalbolgeProgram()
	if err != nil {
		t.Fatalf("MalbolgeProgram: unexpected error: %v", err)
	}
	if len(program) != len(result.Opcodes) {
		t.Fatalf("MalbolgeProgram length = %d, want %d", len(program), len(result.Opcodes))
	}
	for _, b := range []byte(program) {
		if b < 33 || b > 126 {
			t.Fatalf("MalbolgeProgram produced out-of-range ASCII byte %d", b)
		}
	}
}

func TestGenerateForStringRespectsMaxProgramLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxProgramLength = 50
	_, err := New(nil).GenerateForString("a very long target string to exceed the tiny limit", cfg)
	if err == nil {
		t.Fatal("GenerateForString: expected an error when the bootstrap alone exceeds MaxProgramLength")
	}
}
