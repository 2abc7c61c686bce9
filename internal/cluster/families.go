package cluster

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/funding"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
)

var clusterNamespace = uuid.MustParse("6f1c7f0e-3a55-5c1e-9d0a-5b7e2c4d8a10")

// walletData is a normalized cohort member
type walletData struct {
	addr       string
	deposits   []activity.Deposit
	funding    *funding.FundingPatternResult
	firstTrade time.Time
	markets    map[string]struct{}
	fp         *Fingerprint
}

func newWalletData(addr string, in WalletInput) *walletData {
	w := &walletData{
		addr:     addr,
		deposits: in.Deposits,
		funding:  in.FundingResult,
		markets:  make(map[string]struct{}),
	}
	if len(in.Trades) == 0 {
		return w
	}

	var last time.Time
	var sizeSum float64
	for _, tr := range in.Trades {
		if w.firstTrade.IsZero() || tr.Timestamp.Before(w.firstTrade) {
			w.firstTrade = tr.Timestamp
		}
		if tr.Timestamp.After(last) {
			last = tr.Timestamp
		}
		if tr.MarketID != "" {
			w.markets[tr.MarketID] = struct{}{}
		}
		sizeSum += tr.Size
	}
	days := last.Sub(w.firstTrade).Hours() / 24
	if days < 1 {
		days = 1
	}
	w.fp = &Fingerprint{
		Markets:      sortedMapKeys(w.markets),
		TradeCount:   len(in.Trades),
		TradesPerDay: float64(len(in.Trades)) / days,
		AverageSize:  sizeSum / float64(len(in.Trades)),
	}
	return w
}

// clusterID derives a stable id from the cluster type, an optional
// discriminator and the sorted member set
func clusterID(t Type, discriminator string, members []string) string {
	name := string(t) + "|" + discriminator + "|" + strings.Join(members, ",")
	return uuid.NewSHA1(clusterNamespace, []byte(name)).String()
}

// finalize derives confidence, level and severity from the strength.
// Confidence is floored at the configured minimum.
func finalize(c *Cluster, t thresholds.ClusteringThresholds) {
	c.Strength = clamp(c.Strength, 0, 1)
	c.Confidence = clamp(c.Strength*100, t.MinConfidence, 100)
	c.ConfidenceLevel = levelFor(c.Confidence)
	c.Severity = severityForLevel(c.ConfidenceLevel)
}

func levelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence < 20:
		return ConfidenceVeryLow
	case confidence < 40:
		return ConfidenceLow
	case confidence < 60:
		return ConfidenceMedium
	case confidence < 80:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

func severityForLevel(l ConfidenceLevel) Severity {
	switch l {
	case ConfidenceVeryHigh:
		return SeverityCritical
	case ConfidenceHigh:
		return SeverityHigh
	case ConfidenceMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type sourceGroup struct {
	inflow     map[string]*big.Int
	firstAt    map[string]time.Time
	flagged    bool
	sanctioned bool
}

// fundingSourceClusters groups wallets by the address that funded them
func fundingSourceClusters(wallets []*walletData, t thresholds.ClusteringThresholds, risk SourceRiskChecker, now time.Time) []*FundingSourceCluster {
	groups := make(map[string]*sourceGroup)
	totals := make(map[string]*big.Int, len(wallets))

	for _, w := range wallets {
		total := new(big.Int)
		for _, d := range w.deposits {
			amount := d.BaseUnits()
			total.Add(total, amount)

			src, err := activity.NormalizeAddress(d.From)
			if err != nil || src == w.addr {
				continue
			}
			g := groups[src]
			if g == nil {
				g = &sourceGroup{inflow: map[string]*big.Int{}, firstAt: map[string]time.Time{}}
				groups[src] = g
			}
			if g.inflow[w.addr] == nil {
				g.inflow[w.addr] = new(big.Int)
				g.firstAt[w.addr] = d.Timestamp
			}
			g.inflow[w.addr].Add(g.inflow[w.addr], amount)
			if d.Timestamp.Before(g.firstAt[w.addr]) {
				g.firstAt[w.addr] = d.Timestamp
			}
			if d.IsSanctioned || d.IsMixer {
				g.flagged = true
			}
			if d.IsSanctioned {
				g.sanctioned = true
			}
		}
		totals[w.addr] = total
	}

	byAddr := make(map[string]*walletData, len(wallets))
	for _, w := range wallets {
		byAddr[w.addr] = w
	}

	var out []*FundingSourceCluster
	for _, src := range sortedMapKeys(groups) {
		g := groups[src]
		if len(g.inflow) < t.MinClusterSize {
			continue
		}
		members := sortedMapKeys(g.inflow)

		fc := &FundingSourceCluster{SourceAddress: src, TotalAmount: new(big.Int)}
		var concSum float64
		riskFromResults := false
		for _, m := range members {
			amount := g.inflow[m]
			conc := activity.Ratio(amount, totals[m])
			concSum += conc
			fc.TotalAmount.Add(fc.TotalAmount, amount)
			fc.FundedWallets = append(fc.FundedWallets, FundedWallet{
				Address:         m,
				Amount:          new(big.Int).Set(amount),
				FormattedAmount: activity.FormatUSDC(amount),
				Concentration:   conc,
				FirstFundedAt:   g.firstAt[m],
			})
			if fr := byAddr[m].funding; fr != nil && (contains(fr.SanctionedSources, src) || contains(fr.MixerSources, src)) {
				riskFromResults = true
			}
		}
		fc.FormattedTotalAmount = activity.FormatUSDC(fc.TotalAmount)
		fc.FundingConcentration = concSum / float64(len(members))
		fc.IsHighRiskSource = g.flagged || riskFromResults || (risk != nil && risk.IsHighRiskSource(src))
		fc.IsSuspiciousSource = fc.IsHighRiskSource && fc.FundingConcentration >= t.FundingSimilarityThreshold

		strength := fc.FundingConcentration*0.6 + math.Min(1, float64(len(members))/5)*0.2
		if fc.IsSuspiciousSource {
			strength += 0.2
		}

		fc.Cluster = Cluster{
			ID:         clusterID(TypeFundingSource, src, members),
			Type:       TypeFundingSource,
			Members:    members,
			Strength:   strength,
			DetectedAt: now,
			Characteristics: []Characteristic{
				{
					Type:        "SHARED_FUNDING_SOURCE",
					Description: fmt.Sprintf("%d wallets funded by %s", len(members), activity.ShortenAddress(src)),
					Value:       src,
					Strength:    math.Min(1, float64(len(members))/5),
				},
				{
					Type:        "FUNDING_CONCENTRATION",
					Description: "Average share of member inflow from the source",
					Value:       fmt.Sprintf("%.2f", fc.FundingConcentration),
					Strength:    fc.FundingConcentration,
				},
			},
			FlagReasons: []string{
				fmt.Sprintf("%d wallets share funding source %s ($%s total)",
					len(members), activity.ShortenAddress(src), fc.FormattedTotalAmount),
			},
		}
		if fc.IsSuspiciousSource {
			kind := "high-risk"
			if g.sanctioned {
				kind = "sanctioned"
			}
			fc.FlagReasons = append(fc.FlagReasons, fmt.Sprintf("Funding source is %s and supplies %.0f%% of member inflow",
				kind, fc.FundingConcentration*100))
		}
		finalize(&fc.Cluster, t)
		out = append(out, fc)
	}
	return out
}

// temporalClusters slides a window over the sorted first trades. Each anchor
// extends to the last first trade within the window; windows whose member
// set is contained in an earlier one are skipped, so overlapping clusters
// can share wallets.
func temporalClusters(wallets []*walletData, t thresholds.ClusteringThresholds, now time.Time) []*TemporalCluster {
	traded := make([]*walletData, 0, len(wallets))
	for _, w := range wallets {
		if !w.firstTrade.IsZero() {
			traded = append(traded, w)
		}
	}
	sort.Slice(traded, func(i, j int) bool {
		if traded[i].firstTrade.Equal(traded[j].firstTrade) {
			return traded[i].addr < traded[j].addr
		}
		return traded[i].firstTrade.Before(traded[j].firstTrade)
	})

	window := time.Duration(t.TemporalWindowHours * float64(time.Hour))
	var out []*TemporalCluster
	end := 0
	for i := range traded {
		j := max(end, i)
		for j < len(traded) && traded[j].firstTrade.Sub(traded[i].firstTrade) <= window {
			j++
		}
		if j == end {
			continue
		}
		end = j
		group := traded[i:j]
		if len(group) < t.MinClusterSize {
			continue
		}

		first, last := group[0].firstTrade, group[len(group)-1].firstTrade
		avgInterval := last.Sub(first).Seconds() / float64(len(group)-1)
		timing := clamp(100*(1-avgInterval/window.Seconds()), 0, 100)
		sizeFactor := math.Min(1, float64(len(group))/5)

		members := make([]string, len(group))
		for k, w := range group {
			members[k] = w.addr
		}
		sort.Strings(members)

		tc := &TemporalCluster{
			WindowStart:            first,
			WindowEnd:              first.Add(window),
			AverageIntervalSeconds: avgInterval,
			TimingSuspicion:        timing,
		}
		tc.Cluster = Cluster{
			ID:         clusterID(TypeTemporal, "", members),
			Type:       TypeTemporal,
			Members:    members,
			Strength:   0.7*timing/100 + 0.3*sizeFactor,
			DetectedAt: now,
			Characteristics: []Characteristic{{
				Type:        "TEMPORAL_PROXIMITY",
				Description: fmt.Sprintf("First trades within %s", last.Sub(first).Round(time.Second)),
				Value:       fmt.Sprintf("%.0fs", avgInterval),
				Strength:    timing / 100,
			}},
			FlagReasons: []string{
				fmt.Sprintf("%d wallets made their first trade within %s (avg interval %s)",
					len(group), window, (time.Duration(avgInterval) * time.Second).Round(time.Second)),
			},
		}
		finalize(&tc.Cluster, t)
		out = append(out, tc)
	}
	return out
}

// similarity blends market overlap, trade frequency and size profile
func similarity(a, b *Fingerprint, am, bm map[string]struct{}) (float64, int) {
	shared := 0
	for m := range am {
		if _, ok := bm[m]; ok {
			shared++
		}
	}
	union := len(am) + len(bm) - shared
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(shared) / float64(union)
	}
	return 0.5*jaccard + 0.25*ratio(a.TradesPerDay, b.TradesPerDay) + 0.25*ratio(a.AverageSize, b.AverageSize), shared
}

func ratio(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	lo, hi := math.Min(a, b), math.Max(a, b)
	if hi <= 0 {
		return 0
	}
	return lo / hi
}

// tradingPatternClusters links wallet pairs that share enough markets and
// have similar fingerprints, then takes connected components
func tradingPatternClusters(wallets []*walletData, t thresholds.ClusteringThresholds, now time.Time) []*TradingPatternCluster {
	traders := make([]*walletData, 0, len(wallets))
	for _, w := range wallets {
		if w.fp != nil {
			traders = append(traders, w)
		}
	}
	sort.Slice(traders, func(i, j int) bool { return traders[i].addr < traders[j].addr })

	uf := newUnionFind(len(traders))
	type link struct {
		a, b int
		sim  float64
	}
	var links []link
	for i := 0; i < len(traders); i++ {
		for j := i + 1; j < len(traders); j++ {
			sim, shared := similarity(traders[i].fp, traders[j].fp, traders[i].markets, traders[j].markets)
			if shared < t.MinSharedMarkets || sim < t.TradingSimilarityThreshold {
				continue
			}
			uf.union(i, j)
			links = append(links, link{i, j, sim})
		}
	}

	components := make(map[int][]int)
	for i := range traders {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}
	simSum := make(map[int]float64)
	linkCount := make(map[int]int)
	for _, l := range links {
		root := uf.find(l.a)
		simSum[root] += l.sim
		linkCount[root]++
	}

	roots := make([]int, 0, len(components))
	for r := range components {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	var out []*TradingPatternCluster
	for _, root := range roots {
		idx := components[root]
		if len(idx) < t.MinClusterSize || linkCount[root] == 0 {
			continue
		}
		members := make([]string, len(idx))
		common := make(map[string]struct{})
		for k, i := range idx {
			members[k] = traders[i].addr
			if k == 0 {
				for m := range traders[i].markets {
					common[m] = struct{}{}
				}
				continue
			}
			for m := range common {
				if _, ok := traders[i].markets[m]; !ok {
					delete(common, m)
				}
			}
		}
		sort.Strings(members)
		avgSim := simSum[root] / float64(linkCount[root])

		pc := &TradingPatternCluster{
			CommonMarkets:     sortedMapKeys(common),
			AverageSimilarity: avgSim,
			LinkedPairs:       linkCount[root],
		}
		pc.Cluster = Cluster{
			ID:         clusterID(TypeTradingPattern, "", members),
			Type:       TypeTradingPattern,
			Members:    members,
			Strength:   avgSim,
			DetectedAt: now,
			Characteristics: []Characteristic{{
				Type:        "TRADING_PATTERN",
				Description: "Similar markets, trade frequency and size profile",
				Value:       fmt.Sprintf("%.2f", avgSim),
				Strength:    avgSim,
			}},
			FlagReasons: []string{
				fmt.Sprintf("%d wallets trade with %.0f%% similar patterns", len(members), avgSim*100),
			},
		}
		if len(pc.CommonMarkets) > 0 {
			pc.Characteristics = append(pc.Characteristics, Characteristic{
				Type:        "SHARED_MARKETS",
				Description: fmt.Sprintf("%d markets traded by every member", len(pc.CommonMarkets)),
				Value:       strings.Join(pc.CommonMarkets, ","),
				Strength:    math.Min(1, float64(len(pc.CommonMarkets))/float64(max(t.MinSharedMarkets, 1))),
			})
		}
		finalize(&pc.Cluster, t)
		out = append(out, pc)
	}
	return out
}

// multiFactorClusters intersects clusters of different families and keeps
// overlaps of at least the minimum size, one per distinct member set
func multiFactorClusters(base []*Cluster, t thresholds.ClusteringThresholds, now time.Time) []*MultiFactorCluster {
	type candidate struct {
		members   []string
		factors   map[Type]struct{}
		strengths map[string]float64
	}
	candidates := make(map[string]*candidate)
	var order []string

	for i := 0; i < len(base); i++ {
		for j := i + 1; j < len(base); j++ {
			a, b := base[i], base[j]
			if a.Type == b.Type {
				continue
			}
			members := intersect(a.Members, b.Members)
			if len(members) < t.MinClusterSize {
				continue
			}
			key := strings.Join(members, ",")
			c := candidates[key]
			if c == nil {
				c = &candidate{members: members, factors: map[Type]struct{}{}, strengths: map[string]float64{}}
				candidates[key] = c
				order = append(order, key)
			}
			c.factors[a.Type] = struct{}{}
			c.factors[b.Type] = struct{}{}
			c.strengths[a.ID] = a.Strength
			c.strengths[b.ID] = b.Strength
		}
	}
	sort.Strings(order)

	var out []*MultiFactorCluster
	for _, key := range order {
		c := candidates[key]
		factors := make([]Type, 0, len(c.factors))
		for f := range c.factors {
			factors = append(factors, f)
		}
		sort.Slice(factors, func(i, j int) bool { return factors[i] < factors[j] })
		sources := make([]string, 0, len(c.strengths))
		var sum float64
		for id, s := range c.strengths {
			sources = append(sources, id)
			sum += s
		}
		sort.Strings(sources)
		strength := sum/float64(len(c.strengths)) + 0.1*float64(len(factors)-1)

		names := make([]string, len(factors))
		for i, f := range factors {
			names[i] = string(f)
		}
		mc := &MultiFactorCluster{Factors: factors, SourceClusterIDs: sources}
		mc.Cluster = Cluster{
			ID:         clusterID(TypeMultiFactor, "", c.members),
			Type:       TypeMultiFactor,
			Members:    c.members,
			Strength:   strength,
			DetectedAt: now,
			Characteristics: []Characteristic{{
				Type:        "MULTI_FACTOR",
				Description: fmt.Sprintf("Linked by %d independent signals", len(factors)),
				Value:       strings.Join(names, ","),
				Strength:    math.Min(1, strength),
			}},
			FlagReasons: []string{
				fmt.Sprintf("%d wallets linked by %s", len(c.members), strings.Join(names, " + ")),
			},
		}
		finalize(&mc.Cluster, t)
		out = append(out, mc)
	}
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, m := range a {
		set[m] = struct{}{}
	}
	var out []string
	for _, m := range b {
		if _, ok := set[m]; ok {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedMapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
