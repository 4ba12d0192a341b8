package models

import "time"

// ResolutionStatus is the lifecycle state of a conflict record.
type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionAutomatic  ResolutionStatus = "resolved-automatic"
	ResolutionManual     ResolutionStatus = "resolved-manual"
)

// LayerObservation is one layer's view of an entity at detection time.
type LayerObservation struct {
	Layer       Layer     `json:"layer"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Fingerprint string    `json:"fingerprint"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ConflictRecord captures a detected multi-layer divergence awaiting
// resolution. Every divergent observation stays retrievable until the
// record is folded into a new entity version; nothing is discarded.
type ConflictRecord struct {
	ID           string             `json:"id"`
	EntityID     string             `json:"entity_id"`
	Observations []LayerObservation `json:"observations"`
	Status       ResolutionStatus   `json:"status"`
	// Resolution describes the chosen outcome once resolved: which
	// layer (or custom content) won and which observations were overridden.
	Resolution string    `json:"resolution,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// DivergedLayers lists the layers whose observation disagreed with the
// checkpoint.
func (c *ConflictRecord) DivergedLayers() []Layer {
	layers := make([]Layer, 0, len(c.Observations))
	for i := range c.Observations {
		layers = append(layers, c.Observations[i].Layer)
	}
	return layers
}

// Observation returns the stored observation for the given layer, or nil.
func (c *ConflictRecord) Observation(layer Layer) *LayerObservation {
	for i := range c.Observations {
		if c.Observations[i].Layer == layer {
			return &c.Observations[i]
		}
	}
	return nil
}
