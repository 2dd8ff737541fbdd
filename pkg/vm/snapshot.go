package vm

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// snapshotState is the JSON-serializable snapshot of machine control state.
// The operand stack and the program travel as separate archive entries.
type snapshotState struct {
	PC        int   `json:"pc"`
	BP        int   `json:"bp"`
	Running   bool  `json:"running"`
	Trace     bool  `json:"trace"`
	Steps     int64 `json:"steps"`
	Result    int64 `json:"result"`
	HasResult bool  `json:"has_result"`
}

// SnapshotToBytes serializes the complete machine state into an in-memory
// ZIP archive and returns the raw bytes. Output and trace sinks are not
// part of the snapshot; a restored machine writes to whatever sinks its
// owner assigns.
func (v *VM) SnapshotToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := snapshotState{
		PC:        v.PC,
		BP:        v.BP,
		Running:   v.Running,
		Trace:     v.Trace,
		Steps:     v.Steps,
		Result:    v.Result,
		HasResult: v.HasResult,
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal vm_state: %w", err)
	}
	if err := writeZipEntry(zw, "vm_state.json", jsonData); err != nil {
		return nil, err
	}

	if err := writeZipEntry(zw, "stack.bin", int64SliceToLE(v.Stack)); err != nil {
		return nil, err
	}

	progData, err := EncodeProgram(v.Program)
	if err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	if err := writeZipEntry(zw, "program.cvm", progData); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes deserializes a ZIP archive produced by SnapshotToBytes
// and applies the saved state to the machine.
func (v *VM) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "vm_state.json")
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal vm_state: %w", err)
	}

	progData, err := readZipEntry(fileMap, "program.cvm")
	if err != nil {
		return err
	}
	prog, err := DecodeProgram(progData)
	if err != nil {
		return err
	}

	stackData, err := readZipEntry(fileMap, "stack.bin")
	if err != nil {
		return err
	}

	v.PC = state.PC
	v.BP = state.BP
	v.Running = state.Running
	v.Trace = state.Trace
	v.Steps = state.Steps
	v.Result = state.Result
	v.HasResult = state.HasResult
	v.Program = prog
	v.Stack = leToInt64Slice(stackData)
	return nil
}

// SnapshotToFile writes the snapshot archive to the given file path.
func (v *VM) SnapshotToFile(path string) error {
	data, err := v.SnapshotToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RestoreFromFile reads a snapshot archive from the given file path and
// restores the machine state.
func (v *VM) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return v.RestoreFromBytes(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func int64SliceToLE(src []int64) []byte {
	out := make([]byte, len(src)*8)
	for i, v := range src {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func leToInt64Slice(src []byte) []int64 {
	out := make([]int64, len(src)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(src[i*8:]))
	}
	return out
}
