// Package inference binds a window batch to a reconstruction model and reads
// the reconstruction back.
//
// Model is the narrow surface the pipeline needs from a model handle: its
// declared inputs and outputs and a single forward pass. Infer never assumes
// tensor names; it reads them from the handle on every call. LoadONNX returns
// a Model backed by ONNX Runtime.
//
// Infer checks every non-batch axis of the batch against the model's declared
// input dims (dims <= 0 are dynamic) and checks that the reconstruction has the
// input's exact shape. Both checks fail with ErrShapeMismatch.
package inference
