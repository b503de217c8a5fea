// Package window turns a (features × time) spectrogram into a batch of
// fixed-width windows shaped (N, features, width, 1) for the reconstruction
// model.
//
// Make(s, width, stride) pads short inputs with zeros to one full window and
// otherwise emits floor((steps-width)/stride)+1 windows. Strides wider than
// the window leave gaps; those samples are not scored.
package window
