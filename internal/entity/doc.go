// Package entity tracks per-user recall profiles for the people, places and
// things a user mentions.
//
// # Profiles
//
// A Profile holds how often an entity is mentioned, an exponential moving
// average of the evaluator activations present when it is mentioned, EMAs of
// contextual scalars (urgency, autonomic state, distance from core) and a
// co-mention graph.
//
// # Per-Turn De-duplication
//
// A turn is identified by its turn id. The first mention of a key within a
// turn increments MentionCount by one, applies exactly one EMA update and
// records LastTurnID. Later mentions of the same key in the same turn only
// increment Occurrences and refresh LastSeen. RecordTurn increments each
// distinct unordered co-mention pair by exactly one per turn; replaying a
// batch under the same turn id leaves pairs whose keys were both already
// recorded in that turn unchanged.
//
// # Start-of-Turn Reads
//
// Profiles are copy-on-write: an update publishes a new *Profile and never
// mutates a published one. Snapshot captures the pointers present at call
// time, so a snapshot taken before convergence observes start-of-turn state
// regardless of concurrent updates.
//
// # Bounded Memory
//
// Each user's profiles live in an LRU bounded by Config.Capacity; the set of
// user partitions is itself an LRU bounded by Config.MaxUsers. The least
// recently mentioned entity (or least recently active user) is evicted first.
// Co-mentions of evicted keys are dropped the next time the profile holding
// them is written, read by Related or exported, and each profile keeps at
// most Config.MaxCoMentions co-mentions.
//
// # Concurrency Safety
//
// Tracker is safe for concurrent use. Users are partitioned so different
// users never contend on the same partition lock.
package entity
