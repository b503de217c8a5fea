// Package score turns a window batch and its reconstruction into a verdict.
//
// Score reduces each window to its mean squared reconstruction error and
// averages those into one aggregate. Classify compares the aggregate to the
// threshold with a strict greater-than, so an aggregate exactly equal to the
// threshold is HEALTHY.
//
// Both functions are pure.
package score
