//go:build !js

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stackc/pkg/compiler"
	"stackc/pkg/vm"
)

func main() {
	inPath := flag.String("in", "", "input source file path")
	outPath := flag.String("out", "", "output program file path (default: input with .svm extension)")
	runProgram := flag.Bool("run", false, "run the compiled program on the virtual machine")
	runBinPath := flag.String("run-bin", "", "run an existing program file on the virtual machine")
	trace := flag.Bool("trace", false, "write one trace line per executed instruction to stderr")
	flag.Parse()

	if *runProgram && *runBinPath != "" {
		fmt.Fprintln(os.Stderr, "use either -run or -run-bin, not both")
		os.Exit(2)
	}

	compiledOutput := ""
	if *inPath != "" {
		source, err := os.ReadFile(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read input file %q: %v\n", *inPath, err)
			os.Exit(1)
		}

		prog, err := compiler.Compile(string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
			os.Exit(1)
		}

		output := *outPath
		if output == "" {
			output = defaultOutputPath(*inPath)
		}

		if err := vm.SaveProgram(output, prog); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write program file %q: %v\n", output, err)
			os.Exit(1)
		}

		fmt.Printf("compiled %d instructions -> %s\n", len(prog), output)
		compiledOutput = output
	}

	if *inPath == "" && *runBinPath == "" && !*runProgram {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in to compile, -run to run compiled output, or -run-bin <file> to run an existing program file")
		flag.Usage()
		os.Exit(2)
	}

	runTarget := ""
	switch {
	case *runBinPath != "":
		runTarget = *runBinPath
	case *runProgram:
		if compiledOutput == "" {
			fmt.Fprintln(os.Stderr, "-run requires -in, or use -run-bin <file>")
			os.Exit(2)
		}
		runTarget = compiledOutput
	default:
		return
	}

	if err := runProgramFile(runTarget, *trace); err != nil {
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", runTarget, err)
		os.Exit(1)
	}
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ".svm"
	}
	return strings.TrimSuffix(inPath, ext) + ".svm"
}

func runProgramFile(path string, trace bool) error {
	prog, err := vm.LoadProgram(path)
	if err != nil {
		return err
	}

	m := vm.New(prog)
	m.Trace = trace
	if err := m.Run(); err != nil {
		return err
	}

	fmt.Printf("run complete (%s): %d instructions executed, pc=%d, stack height %d\n",
		path, m.Steps, m.PC, len(m.Stack))
	return nil
}
