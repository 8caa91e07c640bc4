// Package convergence runs the evaluators over bounded cycles until the felt
// field settles, then folds the final signals into a composite signature.
//
// # State Machine
//
//	Initializing (cycle 0) -> Refining (cycles 1..max-1) -> Converged | Exhausted
//
// Every cycle fans the evaluators out concurrently and waits for all of them
// before computing energy and satisfaction. Cycles never overlap.
//
// # Aggregates
//
//	E = w_dis*(1 - S_prev) + w_delta*|dE_prev| + w_unmet*unmet + w_cx*complexity
//	S = 1 - var(activations)/0.25, clamped to [0,1]
//
// Only evaluators with confidence > 0 count toward S; with fewer than two
// reporting S is 0.5. Kairos is reached on cycle >= 1 when S lies in the
// configured band and |E - E_prev| < epsilon.
//
// # Isolation
//
// Each evaluator call is bounded by Config.EvaluatorTimeout and recovered
// from panics. A failed evaluator contributes a zero-confidence signal and a
// diagnostic event; the cycle always completes.
package convergence
