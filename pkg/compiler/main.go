// Package compiler provides the lexer, parser, and code generator for a
// small C-like teaching language that targets the stack virtual machine
// in pkg/vm.
//
// Pipeline: source → Lex → Parse → Generate → vm.Program
package compiler
