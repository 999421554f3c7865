package feeders

// FieldPopulation records a single field population event.
type FieldPopulation struct {
	FieldPath  string      // Full path to the field (e.g., "Server.HealthPath")
	FieldName  string      // Name of the field
	FieldType  string      // Type of the field
	FeederType string      // Type of feeder that populated it
	SourceType string      // Type of source (env, properties, dot_env_file)
	SourceKey  string      // Source key that was used (e.g., "modtest.server.healthPath")
	Value      interface{} // Value that was set
	SearchKeys []string    // All keys that were searched for this field
	FoundKey   string      // The key that was actually found
}

// FieldTracker allows feeders to report which fields they populate.
type FieldTracker interface {
	RecordFieldPopulation(fp FieldPopulation)
}

// DefaultFieldTracker is a basic in-memory FieldTracker.
type DefaultFieldTracker struct {
	populations []FieldPopulation
}

// NewDefaultFieldTracker creates an empty DefaultFieldTracker.
func NewDefaultFieldTracker() *DefaultFieldTracker {
	return &DefaultFieldTracker{
		populations: make([]FieldPopulation, 0),
	}
}

// RecordFieldPopulation records that a field was populated by a feeder.
func (t *DefaultFieldTracker) RecordFieldPopulation(fp FieldPopulation) {
	t.populations = append(t.populations, fp)
}

// GetFieldPopulations returns all recorded field populations.
func (t *DefaultFieldTracker) GetFieldPopulations() []FieldPopulation {
	return t.populations
}
