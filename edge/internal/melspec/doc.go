// Package melspec turns raw NASA IMS bearing recordings into the normalized
// mel spectrograms the scorer consumes.
//
// LoadBearing reads one tab-separated recording (one column per bearing
// channel). Transform computes a centred, Hann-windowed STFT power spectrum,
// projects it onto a Slaney-normalized mel filterbank, converts power to dB
// relative to the peak with an 80 dB floor, and rescales [-80, 0] dB onto
// [0, 1]. The defaults match the training pipeline: 20 kHz sample rate,
// 2048-point FFT, hop 128, 128 mel bands up to 10 kHz.
package melspec
