// Package harvest defines the core types shared across the harvesting subsystems:
// identities, fetch results, failure bookkeeping, the error taxonomy, page URL
// construction and the shared pacing state used by one harvest run.
package harvest
