package vm

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

const (
	programMagic   = "stackc-program"
	programVersion = 1
)

// programFile is the on-disk envelope for a compiled program.
type programFile struct {
	Magic   string  `cbor:"magic"`
	Version uint    `cbor:"version"`
	Code    Program `cbor:"code"`
}

// cborEncMode uses canonical mode so identical programs encode to
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeProgram serializes a Program to CBOR bytes.
func EncodeProgram(p Program) ([]byte, error) {
	return cborEncMode.Marshal(programFile{
		Magic:   programMagic,
		Version: programVersion,
		Code:    p,
	})
}

// DecodeProgram deserializes a Program from CBOR bytes, validating the
// envelope and every opcode.
func DecodeProgram(data []byte) (Program, error) {
	var f programFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	if f.Magic != programMagic {
		return nil, fmt.Errorf("vm: not a program file (magic %q)", f.Magic)
	}
	if f.Version != programVersion {
		return nil, fmt.Errorf("vm: unsupported program version %d", f.Version)
	}
	for i, in := range f.Code {
		if in.Op < 0 || in.Op >= opcodeCount {
			return nil, fmt.Errorf("vm: instruction %d has unknown opcode %d", i, int(in.Op))
		}
	}
	return f.Code, nil
}

// SaveProgram writes a program file to path.
func SaveProgram(path string, p Program) error {
	data, err := EncodeProgram(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadProgram reads a program file from path.
func LoadProgram(path string) (Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeProgram(data)
}
