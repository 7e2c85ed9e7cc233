// rsharpc is the R-Sharp compiler driver: it tokenizes, parses, and
// validates the input, lowers it through the RSI pipeline, and hands
// the emitted assembly to the external assembler/linker toolchain.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/robotino04/rsharpc/ast"
	"github.com/robotino04/rsharpc/errs"
	"github.com/robotino04/rsharpc/parse"
	"github.com/robotino04/rsharpc/rsi"
	"github.com/robotino04/rsharpc/sema"
)

const (
	exitOK         = 0
	exitUnknown    = 1
	exitSyntax     = 2
	exitSemantic   = 3
	exitAssembling = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	optOutput := getopt.StringLong("output", 'o', "a.out", "Output executable path")
	optFormat := getopt.StringLong("format", 'f', "nasm", "Output format (c, nasm, aarch64, rsi_nasm, rsi_aarch64)")
	optCompiler := getopt.StringLong("compiler", 0, "gcc", "C compiler used for linking")
	optLinks := getopt.ListLong("link", 0, "Additionally link this object into the output; repeatable")
	optStdlib := getopt.StringLong("stdlib", 0, "", "Directory searched for std:: imports")
	optInteractive := getopt.BoolLong("interactive", 'i', "Step through the lowered RSI before assembling")
	optHelp := getopt.BoolLong("help", 'h', "Print this help message")
	getopt.SetParameters("input-file")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		return exitOK
	}
	args := getopt.Args()
	if len(args) != 1 {
		getopt.Usage()
		return exitUnknown
	}
	input := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prog, err := parse.File(input, *optStdlib)
	if err != nil {
		printSourceErrors(err)
		return exitSyntax
	}
	if err := sema.Validate(prog); err != nil {
		printSourceErrors(err)
		return exitSemantic
	}

	var target rsi.Target
	switch *optFormat {
	case "nasm", "rsi_nasm":
		target = rsi.X86_64
	case "aarch64", "rsi_aarch64":
		target = rsi.AArch64
	case "c":
		fmt.Fprintln(os.Stderr, "rsharpc: the C backend is not available in this build; use nasm or aarch64")
		return exitUnknown
	default:
		fmt.Fprintf(os.Stderr, "rsharpc: unknown output format %q\n", *optFormat)
		return exitUnknown
	}

	sess := rsi.NewSession()
	var arch *rsi.Architecture
	if target == rsi.X86_64 {
		arch = rsi.NewX86_64(sess)
	} else {
		arch = rsi.NewAArch64(sess)
	}

	tu, err := generateAndLower(sess, arch, prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsharpc: %s\n", err)
		return exitUnknown
	}

	if *optFormat == "rsi_nasm" || *optFormat == "rsi_aarch64" {
		fmt.Print(rsi.StringifyTranslationUnit(tu))
		return exitOK
	}

	if *optInteractive {
		if err := stepThrough(tu); err != nil {
			fmt.Fprintf(os.Stderr, "rsharpc: %s\n", err)
			return exitUnknown
		}
	}

	var asm string
	if target == rsi.X86_64 {
		asm, err = rsi.EmitX86_64(arch, tu)
	} else {
		asm, err = rsi.EmitAArch64(arch, tu)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsharpc: %s\n", err)
		return exitUnknown
	}

	if err := assemble(ctx, target, asm, *optOutput, *optCompiler, *optLinks); err != nil {
		fmt.Fprintf(os.Stderr, "rsharpc: %s\n", err)
		return exitAssembling
	}
	return exitOK
}

func generateAndLower(sess *rsi.Session, arch *rsi.Architecture, prog *ast.Program) (*rsi.TranslationUnit, error) {
	tu, err := rsi.Generate(sess, prog)
	if err != nil {
		return nil, err
	}
	if err := rsi.RunPipeline(sess, arch, tu); err != nil {
		return nil, err
	}
	return tu, nil
}

func printSourceErrors(err error) {
	useColor := isTerminal(os.Stderr)
	switch e := err.(type) {
	case *errs.List:
		for _, se := range e.Errors {
			fmt.Fprint(os.Stderr, errs.Print(se, useColor))
		}
	case *errs.SourceError:
		fmt.Fprint(os.Stderr, errs.Print(e, useColor))
	default:
		fmt.Fprintf(os.Stderr, "rsharpc: %s\n", err)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// assemble writes the emitted assembly next to the output path and
// drives the external toolchain: nasm + the C compiler for x86-64, the
// C compiler alone for AArch64 (gas syntax). The context cancels the
// children when the driver is interrupted.
func assemble(ctx context.Context, target rsi.Target, asm, output, compiler string, links []string) error {
	if target == rsi.X86_64 {
		asmPath := output + ".asm"
		objPath := output + ".o"
		if err := os.WriteFile(asmPath, []byte(asm), 0o644); err != nil {
			return err
		}
		if err := runTool(ctx, "nasm", "-f", "elf64", asmPath, "-o", objPath); err != nil {
			return err
		}
		linkArgs := append([]string{"-no-pie", objPath}, links...)
		linkArgs = append(linkArgs, "-o", output)
		return runTool(ctx, compiler, linkArgs...)
	}

	sPath := output + ".S"
	if err := os.WriteFile(sPath, []byte(asm), 0o644); err != nil {
		return err
	}
	linkArgs := append([]string{"-no-pie", sPath}, links...)
	linkArgs = append(linkArgs, "-o", output)
	return runTool(ctx, compiler, linkArgs...)
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
