package thresholds

import "fmt"

// Overrides bundles the partial policy of every analyzer
type Overrides struct {
	Funding    FundingOverrides
	Clustering ClusteringOverrides
	Volume     VolumeOverrides
}

// Manager owns the merged, validated threshold sets. It is immutable after
// construction, so one instance can be shared by concurrent analyzers.
type Manager struct {
	funding    FundingThresholds
	clustering ClusteringThresholds
	volume     VolumeThresholds
}

// NewManager merges o onto the defaults and validates the result
func NewManager(o Overrides) (*Manager, error) {
	m := &Manager{
		funding:    DefaultFundingThresholds().Merge(o.Funding),
		clustering: DefaultClusteringThresholds().Merge(o.Clustering),
		volume:     DefaultVolumeThresholds().Merge(o.Volume),
	}
	if err := m.funding.Validate(); err != nil {
		return nil, fmt.Errorf("funding thresholds: %w", err)
	}
	if err := m.clustering.Validate(); err != nil {
		return nil, fmt.Errorf("clustering thresholds: %w", err)
	}
	if err := m.volume.Validate(); err != nil {
		return nil, fmt.Errorf("volume thresholds: %w", err)
	}
	return m, nil
}

// Defaults returns a manager holding only default thresholds
func Defaults() *Manager {
	m, _ := NewManager(Overrides{})
	return m
}

func (m *Manager) Funding() FundingThresholds       { return m.funding }
func (m *Manager) Clustering() ClusteringThresholds { return m.clustering }
func (m *Manager) Volume() VolumeThresholds         { return m.volume }

// WithClustering merges ad-hoc overrides on top of the managed clustering
// thresholds without changing the manager
func (m *Manager) WithClustering(o ClusteringOverrides) ClusteringThresholds {
	return m.clustering.Merge(o)
}

// WithVolume merges ad-hoc overrides on top of the managed volume thresholds
func (m *Manager) WithVolume(o VolumeOverrides) VolumeThresholds {
	return m.volume.Merge(o)
}

// Ptr is a helper for building override literals
func Ptr[T any](v T) *T { return &v }
