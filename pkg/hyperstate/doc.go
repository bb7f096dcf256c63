// Package hyperstate ties the pieces together for long-running jobs: it
// loads a typed config and mutable state pair, applies command-line
// overrides and version upgrades, evaluates hyperparameter schedules
// against the state's step counter, and persists atomically published
// checkpoint generations that the next run resumes from.
//
// A Manager owns its config and state graph exclusively. Callers must not
// mutate them while a checkpoint is being written; this is a documented
// single-writer discipline, not enforced by locking.
package hyperstate
