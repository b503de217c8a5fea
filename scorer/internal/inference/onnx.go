package inference

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment loads the ONNX Runtime shared library once per process.
// An empty libPath leaves the library's default search in place.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ONNX is a Model backed by an ONNX Runtime session.
type ONNX struct {
	session *ort.DynamicAdvancedSession
	inputs  []IOInfo
	outputs []IOInfo
}

// LoadONNX opens the model file at path. A missing file returns an error
// wrapping os.ErrNotExist before the runtime is touched.
func LoadONNX(path, libPath string) (*ONNX, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("inference: model file %s: %w", path, err)
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, fmt.Errorf("inference: init onnxruntime: %w", err)
	}

	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inference: read model io %s: %w", path, err)
	}
	if len(ins) == 0 || len(outs) == 0 {
		return nil, fmt.Errorf("inference: model %s declares %d inputs and %d outputs", path, len(ins), len(outs))
	}

	m := &ONNX{inputs: toIOInfo(ins), outputs: toIOInfo(outs)}
	sess, err := ort.NewDynamicAdvancedSession(path,
		[]string{m.inputs[0].Name}, []string{m.outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: create session %s: %w", path, err)
	}
	m.session = sess
	return m, nil
}

func toIOInfo(infos []ort.InputOutputInfo) []IOInfo {
	out := make([]IOInfo, len(infos))
	for i, info := range infos {
		out[i] = IOInfo{Name: info.Name, Dims: append([]int64(nil), info.Dimensions...)}
	}
	return out
}

// Inputs implements Model.
func (m *ONNX) Inputs() []IOInfo { return m.inputs }

// Outputs implements Model.
func (m *ONNX) Outputs() []IOInfo { return m.outputs }

// Run implements Model. The output tensor is allocated from the declared
// output dims with dynamic axes taken from the input shape.
func (m *ONNX) Run(input, output string, in Tensor) (Tensor, error) {
	if input != m.inputs[0].Name || output != m.outputs[0].Name {
		return Tensor{}, fmt.Errorf("onnx: session is bound to %s -> %s, not %s -> %s",
			m.inputs[0].Name, m.outputs[0].Name, input, output)
	}

	outShape, err := resolveShape(m.outputs[0].Dims, in.Shape)
	if err != nil {
		return Tensor{}, err
	}

	inT, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer inT.Destroy() //nolint:errcheck

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer outT.Destroy() //nolint:errcheck

	if err := m.session.Run([]ort.ArbitraryTensor{inT}, []ort.ArbitraryTensor{outT}); err != nil {
		return Tensor{}, fmt.Errorf("onnx: run: %w", err)
	}

	data := append([]float32(nil), outT.GetData()...)
	return Tensor{Shape: outShape, Data: data}, nil
}

// Close releases the session.
func (m *ONNX) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// resolveShape fills dynamic declared axes from the input shape.
func resolveShape(declared, input []int64) ([]int64, error) {
	if len(declared) == 0 {
		return append([]int64(nil), input...), nil
	}
	if len(declared) != len(input) {
		return nil, fmt.Errorf("%w: model output rank %d, input %v", ErrShapeMismatch, len(declared), input)
	}
	out := make([]int64, len(declared))
	for i, d := range declared {
		if d > 0 {
			out[i] = d
		} else {
			out[i] = input[i]
		}
	}
	return out, nil
}
