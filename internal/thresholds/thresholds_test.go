package thresholds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsSatisfyOrdering(t *testing.T) {
	f := DefaultFundingThresholds()
	require.NoError(t, f.Validate())
	assert.Less(t, f.FlashTimingSeconds, f.VeryFastTimingSeconds)
	assert.Less(t, f.VeryFastTimingSeconds, f.FastTimingSeconds)
	assert.Less(t, f.FastTimingSeconds, f.ModerateTimingSeconds)
	assert.Greater(t, f.FlashTimingScore, f.VeryFastTimingScore)
	assert.Greater(t, f.VeryFastTimingScore, f.FastTimingScore)
	assert.GreaterOrEqual(t, f.SanctionedSourceScore, f.MixerSourceScore)
	assert.Greater(t, f.SuspiciousThreshold, f.ImmediateThreshold)
	assert.Greater(t, f.ImmediateThreshold, f.QuickThreshold)
	assert.Equal(t, int64(300), f.FlashTimingSeconds)

	c := DefaultClusteringThresholds()
	require.NoError(t, c.Validate())
	assert.Equal(t, 2, c.MinClusterSize)
	assert.Equal(t, 60.0, c.HighCoordinationThreshold)

	require.NoError(t, DefaultVolumeThresholds().Validate())
}

func TestClusteringMergeKeepsUnspecifiedFields(t *testing.T) {
	merged := DefaultClusteringThresholds().Merge(ClusteringOverrides{
		MinClusterSize:            Ptr(4),
		HighCoordinationThreshold: Ptr(70.0),
	})

	want := DefaultClusteringThresholds()
	want.MinClusterSize = 4
	want.HighCoordinationThreshold = 70
	assert.Equal(t, want, merged)
}

func TestFundingMergeEveryField(t *testing.T) {
	o := FundingOverrides{
		FlashTimingSeconds:        Ptr(int64(60)),
		VeryFastTimingSeconds:     Ptr(int64(600)),
		FastTimingSeconds:         Ptr(int64(6000)),
		ModerateTimingSeconds:     Ptr(int64(60000)),
		FlashTimingScore:          Ptr(45.0),
		VeryFastTimingScore:       Ptr(35.0),
		FastTimingScore:           Ptr(20.0),
		ModerateTimingScore:       Ptr(1.0),
		SanctionedSourceScore:     Ptr(60.0),
		MixerSourceScore:          Ptr(40.0),
		LargeDepositUSD:           Ptr(5000.0),
		LargeDepositScore:         Ptr(12.0),
		QuickDepositWindowSeconds: Ptr(int64(120)),
		QuickDepositMinCount:      Ptr(3),
		QuickDepositScore:         Ptr(8.0),
		QuickThreshold:            Ptr(10.0),
		ImmediateThreshold:        Ptr(30.0),
		SuspiciousThreshold:       Ptr(50.0),
	}
	got := DefaultFundingThresholds().Merge(o)
	assert.Equal(t, FundingThresholds{
		FlashTimingSeconds:        60,
		VeryFastTimingSeconds:     600,
		FastTimingSeconds:         6000,
		ModerateTimingSeconds:     60000,
		FlashTimingScore:          45,
		VeryFastTimingScore:       35,
		FastTimingScore:           20,
		ModerateTimingScore:       1,
		SanctionedSourceScore:     60,
		MixerSourceScore:          40,
		LargeDepositUSD:           5000,
		LargeDepositScore:         12,
		QuickDepositWindowSeconds: 120,
		QuickDepositMinCount:      3,
		QuickDepositScore:         8,
		QuickThreshold:            10,
		ImmediateThreshold:        30,
		SuspiciousThreshold:       50,
	}, got)
	require.NoError(t, got.Validate())
}

func TestValidateRejectsBrokenOrdering(t *testing.T) {
	tests := []struct {
		name string
		o    Overrides
	}{
		{"flash after very fast", Overrides{Funding: FundingOverrides{FlashTimingSeconds: Ptr(int64(7200))}}},
		{"flash score not largest", Overrides{Funding: FundingOverrides{FlashTimingScore: Ptr(10.0)}}},
		{"mixer above sanctioned", Overrides{Funding: FundingOverrides{MixerSourceScore: Ptr(90.0)}}},
		{"suspicious below immediate", Overrides{Funding: FundingOverrides{SuspiciousThreshold: Ptr(30.0)}}},
		{"cluster of one", Overrides{Clustering: ClusteringOverrides{MinClusterSize: Ptr(1)}}},
		{"similarity above one", Overrides{Clustering: ClusteringOverrides{TradingSimilarityThreshold: Ptr(1.5)}}},
		{"critical below high", Overrides{Clustering: ClusteringOverrides{CriticalCoordinationThreshold: Ptr(50.0)}}},
		{"young after established", Overrides{Volume: VolumeOverrides{YoungMaxDays: Ptr(120.0)}}},
		{"zero lookback", Overrides{Volume: VolumeOverrides{DailyLookback: Ptr(0)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.o)
			assert.Error(t, err)
		})
	}
}

func TestManagerAdHocMergeDoesNotMutate(t *testing.T) {
	m, err := NewManager(Overrides{Clustering: ClusteringOverrides{MinSharedMarkets: Ptr(3)}})
	require.NoError(t, err)

	adhoc := m.WithClustering(ClusteringOverrides{HighCoordinationThreshold: Ptr(50.0)})
	assert.Equal(t, 50.0, adhoc.HighCoordinationThreshold)
	assert.Equal(t, 3, adhoc.MinSharedMarkets)
	assert.Equal(t, 60.0, m.Clustering().HighCoordinationThreshold)
	assert.Equal(t, DefaultFundingThresholds(), m.Funding())
	assert.Equal(t, DefaultVolumeThresholds(), Defaults().Volume())

	vol := m.WithVolume(VolumeOverrides{AnomalyStdDevMultiplier: Ptr(3.5)})
	assert.Equal(t, 3.5, vol.AnomalyStdDevMultiplier)
	assert.Equal(t, 2.0, m.Volume().AnomalyStdDevMultiplier)
}
