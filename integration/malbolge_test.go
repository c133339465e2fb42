// Package integration exercises the generator and the VM together:
// produce a program, then replay it through a fresh engine and check
// what comes out the other side.
package integration

import (
	"testing"

	"github.com/wallstop/malbolge-go/encoding"
	"github.com/wallstop/malbolge-go/generator"
	"github.com/wallstop/malbolge-go/vm"
)

func TestGeneratedProgramReproducesTargetOutput(t *testing.T) {
	seed := int64(99)
	cfg := generator.DefaultConfig()
	cfg.RandomSeed = &seed

	result, err := generator.New(nil).GenerateForString("Hi", cfg)
	if err != nil {
		t.Fatalf("GenerateForString: unexpected error: %v", err)
	}

	output, err := vm.NewDefaultInterpreter().Run([]byte(result.Opcodes), vm.ExecuteOptions{})
	if err != nil {
		t.Fatalf("Run: unexpected error replaying generated opcodes: %v", err)
	}
	if output != "Hi" {
		t.Fatalf("replayed output = %q, want %q", output, "Hi")
	}
}

func TestGeneratedMalbolgeProgramNormalizesBackToOpcodes(t *testing.T) {
	seed := int64(7)
	cfg := generator.DefaultConfig()
	cfg.RandomSeed = &seed

	result, err := generator.New(nil).GenerateForString("ok", cfg)
	if err != nil {
		t.Fatalf("GenerateForString: unexpected error: %v", err)
	}

	program, err := result.MalbolgeProgram()
	if err != nil {
		t.Fatalf("MalbolgeProgram: unexpected error: %v", err)
	}

	opcodes, err := encoding.Normalize([]byte(program))
	if err != nil {
		t.Fatalf("Normalize: unexpected error: %v", err)
	}
	if string(opcodes) != result.Opcodes {
		t.Fatalf("normalizing the reconstructed source = %q, want original opcodes %q", opcodes, result.Opcodes)
	}

	output, err := vm.NewDefaultInterpreter().Run(opcodes, vm.ExecuteOptions{})
	if err != nil {
		t.Fatalf("Run: unexpected error running reconstructed source: %v", err)
	}
	if output != "ok" {
		t.Fatalf("output from reconstructed source = %q, want %q", output, "ok")
	}
}
