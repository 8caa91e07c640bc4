// Package services assembles feltd from configuration.
//
// Build constructs every component, restores persisted state and seeds the
// evaluator prototypes. The resulting Runtime exposes the components through
// the Registry accessors and owns the background work: the template
// watcher and the periodic state flush.
package services
