// Package spectrogram decodes and encodes the NumPy .npy payloads that carry
// vibration spectrograms between the edge and the scorer.
//
// Decode(b) parses any numeric .npy payload into an Array (float32, C order).
// Normalize(a) is the explicit validation step: it squeezes leading size-1
// axes while the array is above 2-D and rejects anything that is not then
// exactly (features, steps). Encode(w, s) writes a 2-D float64 payload.
//
// Failures are classified by sentinel: ErrBadMagic (not .npy at all),
// ErrCorrupt (bad header or truncated data), ErrDType and ErrShape.
package spectrogram
