package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"stackc/pkg/compiler"
	"stackc/pkg/config"
	"stackc/pkg/vm"
)

func main() {
	showTokens := flag.Bool("tokens", false, "print the token stream and stop")
	showAST := flag.Bool("ast", false, "print the parsed statements and stop")
	showListing := flag.Bool("list", false, "print the instruction listing and stop")
	trace := flag.Bool("trace", false, "write one trace line per executed instruction to stderr")
	configPath := flag.String("config", "", "path to a stackc.toml file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: console [flags] program.c")
		flag.Usage()
		os.Exit(2)
	}
	filename := flag.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sourceBytes, err := os.ReadFile(filename)
	if err != nil {
		log.Fatalf("Failed to read source file: %v", err)
	}
	source := string(sourceBytes)

	tokens, err := compiler.Lex(source)
	if err != nil {
		log.Fatalf("Lexing failed: %v", err)
	}
	if *showTokens {
		for _, tok := range tokens {
			fmt.Println(tok)
		}
		return
	}

	stmts, err := compiler.Parse(tokens, source)
	if err != nil {
		log.Fatalf("Parsing failed: %v", err)
	}
	if *showAST {
		for _, stmt := range stmts {
			fmt.Println(stmt)
		}
		return
	}

	prog, err := compiler.Generate(stmts)
	if err != nil {
		log.Fatalf("Code generation failed: %v", err)
	}
	if *showListing {
		fmt.Print(vm.Disassemble(prog))
		return
	}

	m := vm.New(prog)
	m.Trace = *trace || cfg.Run.Trace

	if cfg.Run.MaxSteps > 0 {
		running, err := m.RunSteps(cfg.Run.MaxSteps)
		if err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		if running {
			log.Fatalf("Program still running after %d instructions", cfg.Run.MaxSteps)
		}
		return
	}
	if err := m.Run(); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// loadConfig resolves the effective configuration: the -config file if given,
// otherwise the nearest stackc.toml, otherwise the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
