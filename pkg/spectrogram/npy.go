package spectrogram

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sbinet/npyio/npy"
	"gonum.org/v1/gonum/mat"
)

// npyMagic prefixes every .npy payload regardless of format version.
var npyMagic = []byte("\x93NUMPY")

// Decode parses an .npy payload into an Array of float32 values.
//
// Every numeric dtype numpy writes by default is accepted and converted to
// float32 (narrowing float64 and integer input). Fortran-ordered payloads are
// rearranged into C order so Array.Data is always row-major.
//
// A payload without the magic prefix is ErrBadMagic. A malformed preamble or
// header, or a body shorter than the header's shape requires, is ErrCorrupt.
func Decode(b []byte) (arr *Array, err error) {
	if !bytes.HasPrefix(b, npyMagic) {
		return nil, ErrBadMagic
	}
	bodyLen, err := checkPreamble(b)
	if err != nil {
		return nil, err
	}

	// npyio slices the header dict without bounds checks.
	defer func() {
		if p := recover(); p != nil {
			arr, err = nil, fmt.Errorf("%w: header: %v", ErrCorrupt, p)
		}
	}()

	r, err := npy.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	descr := r.Header.Descr
	shape := append([]int(nil), descr.Shape...)
	n, ok := Elements(shape...)
	if !ok {
		return nil, fmt.Errorf("%w: invalid shape %v", ErrCorrupt, shape)
	}
	size, ok := itemSizes[dtypeKind(descr.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDType, descr.Type)
	}
	if n > bodyLen/size {
		return nil, fmt.Errorf("%w: shape %v needs %d bytes of %s, payload has %d",
			ErrCorrupt, shape, n, descr.Type, bodyLen)
	}

	data, err := readFloat32(r, descr.Type)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: got %d elements, shape %v wants %d", ErrCorrupt, len(data), shape, n)
	}

	if descr.Fortran && len(shape) > 1 {
		data = fortranToC(data, shape)
	}
	return &Array{Shape: shape, Data: data}, nil
}

// checkPreamble validates the version and header length that follow the
// magic and returns the number of bytes after the header. The header must
// fit in b and end with a newline.
func checkPreamble(b []byte) (int, error) {
	rest := b[len(npyMagic):]
	if len(rest) < 2 {
		return 0, fmt.Errorf("%w: truncated preamble", ErrCorrupt)
	}
	var pre, hlen int
	switch major := rest[0]; major {
	case 1:
		if len(rest) < 4 {
			return 0, fmt.Errorf("%w: truncated preamble", ErrCorrupt)
		}
		pre, hlen = len(npyMagic)+4, int(binary.LittleEndian.Uint16(rest[2:4]))
	case 2:
		if len(rest) < 6 {
			return 0, fmt.Errorf("%w: truncated preamble", ErrCorrupt)
		}
		pre, hlen = len(npyMagic)+6, int(binary.LittleEndian.Uint32(rest[2:6]))
	default:
		return 0, fmt.Errorf("%w: unsupported format version %d.%d", ErrCorrupt, major, rest[1])
	}
	if hlen == 0 || hlen > len(b)-pre {
		return 0, fmt.Errorf("%w: header length %d exceeds payload of %d bytes", ErrCorrupt, hlen, len(b))
	}
	if b[pre+hlen-1] != '\n' {
		return 0, fmt.Errorf("%w: header not newline-terminated", ErrCorrupt)
	}
	return len(b) - pre - hlen, nil
}

// itemSizes maps the supported dtype kinds to their width in bytes.
var itemSizes = map[string]int{
	"f4": 4, "f8": 8,
	"i1": 1, "i2": 2, "i4": 4, "i8": 8,
	"u1": 1, "u2": 2, "u4": 4, "u8": 8,
	"b1": 1,
}

// dtypeKind strips the byte-order character ('<', '>', '|', '=') from dtype.
func dtypeKind(dtype string) string {
	if len(dtype) == 3 {
		return dtype[1:]
	}
	return dtype
}

// readFloat32 reads the payload into a slice of the dtype's native Go type and
// converts it element-wise to float32.
func readFloat32(r *npy.Reader, dtype string) ([]float32, error) {
	var (
		out []float32
		err error
	)
	switch dtypeKind(dtype) {
	case "f4":
		var v []float32
		err = r.Read(&v)
		out = v
	case "f8":
		var v []float64
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "i1":
		var v []int8
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "i2":
		var v []int16
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "i4":
		var v []int32
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "i8":
		var v []int64
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "u1":
		var v []uint8
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "u2":
		var v []uint16
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "u4":
		var v []uint32
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "u8":
		var v []uint64
		if err = r.Read(&v); err == nil {
			out = convert(v)
		}
	case "b1":
		var v []bool
		if err = r.Read(&v); err == nil {
			out = make([]float32, len(v))
			for i, b := range v {
				if b {
					out[i] = 1
				}
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrDType, dtype)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	return out, nil
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float64
}

func convert[T number](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// fortranToC rearranges column-major data into row-major order for shape.
func fortranToC(data []float32, shape []int) []float32 {
	out := make([]float32, len(data))
	idx := make([]int, len(shape))
	for c := range out {
		// c walks the C-order positions; compute the Fortran offset of the
		// same multi-index.
		f, stride := 0, 1
		for d := 0; d < len(shape); d++ {
			f += idx[d] * stride
			stride *= shape[d]
		}
		out[c] = data[f]

		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Encode writes s to w as a 2-D float64 .npy payload, the dtype numpy
// produces for spectrograms computed on the edge.
func Encode(w io.Writer, s *Spectrogram) error {
	if s.Features == 0 || s.Steps == 0 {
		return fmt.Errorf("%w: cannot encode empty %dx%d spectrogram", ErrShape, s.Features, s.Steps)
	}
	vals := make([]float64, len(s.Data))
	for i, v := range s.Data {
		vals[i] = float64(v)
	}
	m := mat.NewDense(s.Features, s.Steps, vals)
	if err := npy.Write(w, m); err != nil {
		return fmt.Errorf("spectrogram: encode: %w", err)
	}
	return nil
}
