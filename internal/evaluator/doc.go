// Package evaluator implements the twelve independent scorers the convergence
// engine runs every cycle.
//
// Every variant satisfies Evaluator and is identified by a Kind from a closed
// set; Kind.Index is its slot in the composite signature. An evaluator reads
// the turn's occasions and a read-only Context and returns a Signal. It never
// returns an error: when an optional collaborator (embedding provider,
// prototype index, graph store) is unavailable it lowers its confidence,
// marks the signal Degraded and appends an event to the turn's trace.
//
// # Cycle refinement
//
// On cycle 0 the activation is the raw lexical score. On later cycles the
// raw score is blended toward the previous cycle's field mean by Context.Lure.
// Signal.Relevance always carries the raw score so the engine can measure
// unmet relevance.
//
// # Atoms
//
// Atoms are the shared semantic vocabulary evaluators report strengths for
// ("grief", "attachment", "threat", ...). Several variants can report the
// same atom; the nexus composer turns those agreements into coalitions.
package evaluator
