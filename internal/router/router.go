// Package router implements the smart model router of SPEC_FULL.md §4.3:
// provider discovery into a capability catalog, request analysis, a
// filtering cascade, and a scoring formula that produces a RoutingDecision.
package router

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"relaycore/internal/gatewayerr"
	"relaycore/internal/observability"
)

// RawModel is what a provider's listModels call returns before capability
// inference.
type RawModel struct {
	ID       string
	Name     string
	Provider string
}

// Lister is the subset of the provider interface discovery needs.
type Lister interface {
	ListModels(ctx context.Context) ([]RawModel, error)
}

// ModelProfile is one entry in the capability catalog.
type ModelProfile struct {
	ID                      string
	Name                    string
	Provider                string
	FunctionCalling         bool
	FunctionCallingAccuracy float64
	Vision                  bool
	MaxContextTokens        int
	AvgLatencyMs            float64
	InputPricePer1kUSD      float64
	IsAvailable             bool
}

// familyRule maps a model-id substring to conservative capability defaults.
type familyRule struct {
	match                   string
	functionCalling         bool
	functionCallingAccuracy float64
	vision                  bool
	maxContextTokens        int
}

var familyRules = []familyRule{
	{"gpt-4o", true, 0.97, true, 128000},
	{"gpt-4-turbo", true, 0.95, true, 128000},
	{"gpt-4", true, 0.93, false, 8192},
	{"gpt-3.5", true, 0.85, false, 16385},
	{"o1", true, 0.90, false, 200000},
	{"claude-3-5-sonnet", true, 0.96, true, 200000},
	{"claude-3-opus", true, 0.94, true, 200000},
	{"claude-3-haiku", true, 0.88, true, 200000},
	{"gemini-1.5-pro", true, 0.94, true, 1000000},
	{"gemini-1.5-flash", true, 0.89, true, 1000000},
	{"nova-pro", true, 0.90, true, 300000},
	{"nova-lite", true, 0.85, true, 300000},
}

const defaultAccuracy = 0.70
const defaultMaxContext = 8192

var (
	visionSuffix = regexp.MustCompile(`(?i)(vision|-v\b)`)
	miniOrNano   = regexp.MustCompile(`(?i)(mini|nano)`)
	instructChat = regexp.MustCompile(`(?i)(instruct|chat)`)
	embedSuffix  = regexp.MustCompile(`(?i)embed`)
)

func inferProfile(raw RawModel) ModelProfile {
	p := ModelProfile{
		ID:               raw.ID,
		Name:             raw.Name,
		Provider:         raw.Provider,
		IsAvailable:      true,
		MaxContextTokens: defaultMaxContext,
	}

	lower := strings.ToLower(raw.ID)
	if embedSuffix.MatchString(lower) {
		p.FunctionCalling = false
		return p
	}

	matched := false
	for _, rule := range familyRules {
		if strings.Contains(lower, rule.match) {
			p.FunctionCalling = rule.functionCalling
			p.FunctionCallingAccuracy = rule.functionCallingAccuracy
			p.Vision = rule.vision
			p.MaxContextTokens = rule.maxContextTokens
			matched = true
			break
		}
	}
	if !matched {
		p.FunctionCalling = true
		p.FunctionCallingAccuracy = defaultAccuracy
		p.Vision = visionSuffix.MatchString(lower)
		_ = instructChat.MatchString(lower)
		_ = miniOrNano.MatchString(lower)
	}
	return p
}

// Catalog is the discovered set of model profiles, refreshed at startup and
// on demand.
type Catalog struct {
	profiles []ModelProfile
}

// Discover calls ListModels on every lister concurrently, tolerating
// partial provider failures: a provider whose discovery errors contributes
// no models but never halts the others.
func Discover(ctx context.Context, listers map[string]Lister) *Catalog {
	type result struct {
		profiles []ModelProfile
	}
	results := make([]result, len(listers))
	names := make([]string, 0, len(listers))
	for name := range listers {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(names))
	for i, name := range names {
		i, name := i, name
		lister := listers[name]
		g.Go(func() error {
			raws, err := lister.ListModels(gctx)
			if err != nil {
				observability.LoggerFrom(ctx).Warn().Err(err).Str("provider", name).Msg("model discovery failed, continuing with other providers")
				return nil
			}
			profiles := make([]ModelProfile, 0, len(raws))
			for _, r := range raws {
				profiles = append(profiles, inferProfile(r))
			}
			results[i] = result{profiles: profiles}
			return nil
		})
	}
	_ = g.Wait()

	catalog := &Catalog{}
	for _, r := range results {
		catalog.profiles = append(catalog.profiles, r.profiles...)
	}
	return catalog
}

// Profiles returns a snapshot of the catalog.
func (c *Catalog) Profiles() []ModelProfile {
	out := make([]ModelProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Message is the minimal request shape analysis needs.
type Message struct {
	Content  string
	HasImage bool
}

// Request is one routing request.
type Request struct {
	Messages      []Message
	ToolCount     int
	QualityWeight float64 // slider-derived, [0,1], default 0.5
	CostWeight    float64 // slider-derived, [0,1], default 0.5
}

// Analysis is the result of analyzing a request against the heuristics in
// SPEC_FULL.md §4.3.
type Analysis struct {
	HasTools           bool
	ToolCount          int
	IsMultiCloud       bool
	IsComplexReasoning bool
	IsMultiStep        bool
	RequiresVision     bool
	EstimatedTokens    int
}

var cloudKeywords = []string{"azure", "aws", "gcp", "google cloud", "amazon web services"}
var reasoningPhrases = []string{"analyze", "compare", "explain why", "step by step", "reason through"}
var sequenceMarkers = []string{"first", "then", "next", "finally", "after that"}
var numberedItem = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

// Analyze computes an Analysis from a request.
func Analyze(req Request) Analysis {
	var combined strings.Builder
	hasImage := false
	for _, m := range req.Messages {
		combined.WriteString(m.Content)
		combined.WriteString(" ")
		if m.HasImage {
			hasImage = true
		}
	}
	text := strings.ToLower(combined.String())

	cloudHits := 0
	for _, kw := range cloudKeywords {
		if strings.Contains(text, kw) {
			cloudHits++
		}
	}

	complex := false
	for _, phrase := range reasoningPhrases {
		if strings.Contains(text, phrase) {
			complex = true
			break
		}
	}

	seqHits := 0
	for _, marker := range sequenceMarkers {
		if strings.Contains(text, marker) {
			seqHits++
		}
	}
	numberedHits := len(numberedItem.FindAllString(combined.String(), -1))

	return Analysis{
		HasTools:           req.ToolCount > 0,
		ToolCount:          req.ToolCount,
		IsMultiCloud:       cloudHits >= 2,
		IsComplexReasoning: complex,
		IsMultiStep:        seqHits >= 2 || numberedHits >= 2,
		RequiresVision:     hasImage,
		EstimatedTokens:    int(math.Ceil(float64(combined.Len()) / 4)),
	}
}

// Decision is a routing result: the chosen model plus up to three runners-up.
type Decision struct {
	Model      ModelProfile
	Score      float64
	Alternates []ModelProfile
}

// Route filters and scores the catalog against req, returning the top
// choice. Returns gatewayerr.ProviderUnavailable when no model survives
// filtering, per SPEC_FULL.md §4.9 failure semantics ("router fatal if no
// model is available").
func Route(catalog *Catalog, req Request) (*Decision, error) {
	analysis := Analyze(req)
	candidates := filter(catalog.Profiles(), analysis)
	if len(candidates) == 0 {
		return nil, gatewayerr.New(gatewayerr.ProviderUnavailable, "no model satisfies routing constraints")
	}

	qualityWeight := req.QualityWeight
	if qualityWeight == 0 {
		qualityWeight = 0.5
	}
	costWeight := req.CostWeight
	if costWeight == 0 {
		costWeight = 0.5
	}

	type scored struct {
		profile ModelProfile
		score   float64
	}
	results := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		results = append(results, scored{profile: p, score: score(p, analysis, qualityWeight, costWeight)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].profile.AvgLatencyMs != results[j].profile.AvgLatencyMs {
			return results[i].profile.AvgLatencyMs < results[j].profile.AvgLatencyMs
		}
		return results[i].profile.ID < results[j].profile.ID
	})

	decision := &Decision{Model: results[0].profile, Score: results[0].score}
	for i := 1; i < len(results) && i <= 3; i++ {
		decision.Alternates = append(decision.Alternates, results[i].profile)
	}
	return decision, nil
}

func filter(profiles []ModelProfile, a Analysis) []ModelProfile {
	available := make([]ModelProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.IsAvailable {
			available = append(available, p)
		}
	}
	candidates := available

	if a.HasTools || a.IsMultiStep || a.IsMultiCloud {
		var strong []ModelProfile
		for _, p := range candidates {
			if p.FunctionCalling && p.FunctionCallingAccuracy >= 0.90 {
				strong = append(strong, p)
			}
		}
		if len(strong) == 0 {
			strong = topNByAccuracy(candidates, 3)
		}
		candidates = strong
	}

	if a.RequiresVision {
		var visionCapable []ModelProfile
		for _, p := range candidates {
			if p.Vision {
				visionCapable = append(visionCapable, p)
			}
		}
		if len(visionCapable) > 0 {
			candidates = visionCapable
		}
	}

	if a.EstimatedTokens > 8000 {
		var longContext []ModelProfile
		for _, p := range candidates {
			if p.MaxContextTokens >= 2*a.EstimatedTokens {
				longContext = append(longContext, p)
			}
		}
		if len(longContext) > 0 {
			candidates = longContext
		}
	}

	return candidates
}

func topNByAccuracy(profiles []ModelProfile, n int) []ModelProfile {
	sorted := make([]ModelProfile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FunctionCallingAccuracy > sorted[j].FunctionCallingAccuracy })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func score(p ModelProfile, a Analysis, qualityWeight, costWeight float64) float64 {
	var s float64
	accuracy := p.FunctionCallingAccuracy

	if a.HasTools {
		s += 50 * accuracy * (0.5 + 0.5*qualityWeight)
	}
	if a.IsMultiStep || a.IsMultiCloud {
		s += 30 * accuracy * (0.5 + 0.5*qualityWeight)
	}
	if a.RequiresVision && p.Vision {
		s += 20
	}
	if isLongConversation(a) {
		s += math.Min(float64(p.MaxContextTokens)/50000, 10)
	}
	s += (1 - math.Min(p.InputPricePer1kUSD/0.01, 1)) * 25 * costWeight
	s += (1 - math.Min(p.AvgLatencyMs/1000, 1)) * 10 * costWeight
	if qualityWeight > 0.6 {
		s += 15 * accuracy * qualityWeight
	}
	return s
}

// longConversationTokens is the estimatedTokens threshold past which a
// model's max context size contributes to its score.
const longConversationTokens = 4000

func isLongConversation(a Analysis) bool {
	return a.EstimatedTokens > longConversationTokens
}
