package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders a program as one line per instruction, prefixed with
// its absolute index, the address form every branch and call operand uses.
func Disassemble(p Program) string {
	var sb strings.Builder
	for i, in := range p {
		fmt.Fprintf(&sb, "%4d  %s\n", i, in)
	}
	return sb.String()
}
