// Package schedule evaluates piecewise hyperparameter schedules. A schedule
// is written as a string inside a numeric record field, for example
// "step: 1.0@0 0.1@1000": the value starts at 1.0, reaches 0.1 at step
// 1000, and is clamped flat outside the control points. Between points the
// value is interpolated, linearly by default or by cosine when a "cos" tag
// separates the pair.
package schedule
