// Package pricing implements the pricing service of SPEC_FULL.md §4.9: a
// singleton that refreshes live pricing from AWS's Price List API every 24
// hours, falling back to a hand-maintained table on miss or API failure.
package pricing

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"

	"relaycore/internal/observability"
	"relaycore/internal/persistence"
)

// refreshInterval matches the spec's 24-hour live-pricing refresh.
const refreshInterval = 24 * time.Hour

// Cost is the result of CalculateCost.
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Source     string // "aws-api" | "fallback"
}

// awsClient is the subset of *pricing.Client this package calls, so tests
// can substitute a fake.
type awsClient interface {
	GetProducts(ctx context.Context, params *awspricing.GetProductsInput, optFns ...func(*awspricing.Options)) (*awspricing.GetProductsOutput, error)
}

// Service is the pricing singleton. One process-wide instance is expected;
// callers share it rather than constructing per-request.
type Service struct {
	aws   awsClient
	store persistence.PricingStore

	mu       sync.RWMutex
	fallback map[string]fallbackEntry
}

type fallbackEntry struct {
	inputPer1k  float64
	outputPer1k float64
}

// New builds a pricing service. aws may be nil, in which case every lookup
// uses the fallback table (e.g. local development without AWS credentials).
func New(aws awsClient, store persistence.PricingStore) *Service {
	return &Service{aws: aws, store: store, fallback: defaultFallbackTable()}
}

// StartRefreshLoop blocks fetching live prices every refreshInterval until
// ctx is canceled. Callers run it in its own goroutine.
func (s *Service) StartRefreshLoop(ctx context.Context) {
	s.refreshOnce(ctx)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *Service) refreshOnce(ctx context.Context) {
	if s.aws == nil {
		return
	}
	out, err := s.aws.GetProducts(ctx, &awspricing.GetProductsInput{
		ServiceCode: stringPtr("AmazonBedrock"),
	})
	if err != nil {
		observability.LoggerFrom(ctx).Warn().Err(err).Msg("pricing refresh failed, continuing on fallback table")
		return
	}
	for _, raw := range out.PriceList {
		entry, modelID, ok := parsePriceListItem(raw)
		if !ok {
			continue
		}
		if s.store != nil {
			_ = s.store.UpsertPricing(ctx, persistence.ModelPricing{
				ModelID:          modelID,
				InputPricePer1k:  entry.inputPer1k,
				OutputPricePer1k: entry.outputPer1k,
				Source:           "aws-api",
				LastUpdated:      time.Now().UTC(),
			})
		}
	}
}

// priceListDocument is the subset of AWS's documented Price List API JSON
// document shape (https://docs.aws.amazon.com/awsaccountbilling/latest/aboutv2/price-changes.html)
// this package reads: the SKU's attributes (to recover the Bedrock model
// id) and its on-demand price dimensions (to recover input/output token
// rates). Every PriceList entry is one such document, serialized as a
// string rather than nested JSON.
type priceListDocument struct {
	Product struct {
		Attributes map[string]string `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				Description  string            `json:"description"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// parsePriceListItem parses one raw Price List document for a Bedrock SKU,
// pairing its input/output token rate with the model id carried in the
// product attributes. Returns ok=false for anything it can't confidently
// map to a model id or that carries neither an input nor an output token
// price dimension (e.g. a provisioned-throughput or batch SKU).
func parsePriceListItem(raw string) (fallbackEntry, string, bool) {
	var doc priceListDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fallbackEntry{}, "", false
	}

	modelID := bedrockModelID(doc.Product.Attributes)
	if modelID == "" {
		return fallbackEntry{}, "", false
	}

	var entry fallbackEntry
	var sawInput, sawOutput bool
	for _, term := range doc.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, err := strconv.ParseFloat(dim.PricePerUnit["USD"], 64)
			if err != nil {
				continue
			}
			per1k := usd
			if !strings.Contains(strings.ToLower(dim.Unit), "1k") {
				per1k = usd * 1000
			}
			desc := strings.ToLower(dim.Description)
			switch {
			case strings.Contains(desc, "input"):
				entry.inputPer1k = per1k
				sawInput = true
			case strings.Contains(desc, "output"):
				entry.outputPer1k = per1k
				sawOutput = true
			}
		}
	}
	if !sawInput && !sawOutput {
		return fallbackEntry{}, "", false
	}
	return entry, modelID, true
}

// bedrockModelID recovers a usable model id from a Price List SKU's
// attributes. Bedrock SKUs vary in which attribute key names the model
// depending on provider, so this tries the ones observed across vendors
// before giving up.
func bedrockModelID(attrs map[string]string) string {
	for _, key := range []string{"model", "modelId", "titanModel"} {
		if v := attrs[key]; v != "" {
			return NormalizeModelID(v)
		}
	}
	return ""
}

var (
	providerPrefix = regexp.MustCompile(`(?i)^(azure|aws|gcp|amazon|google|anthropic|openai)[-/.:]*`)
	versionSuffix  = regexp.MustCompile(`(?i)[-.]?v?\d+([.-]\d+)*$`)
)

// NormalizeModelID strips provider prefixes and version suffixes so live
// and fallback pricing share one lookup key regardless of how a caller
// spelled the model ID (e.g. "azure/gpt-4o-2024-08-06" -> "gpt-4o").
func NormalizeModelID(modelID string) string {
	id := strings.ToLower(strings.TrimSpace(modelID))
	id = providerPrefix.ReplaceAllString(id, "")
	id = versionSuffix.ReplaceAllString(id, "")
	return strings.Trim(id, "-/.: ")
}

// CalculateCost resolves pricing for modelID/region (store first, fallback
// table second) and computes cost, rounded to 8 decimals.
func (s *Service) CalculateCost(ctx context.Context, modelID string, inputTokens, outputTokens int, region string) Cost {
	normalized := NormalizeModelID(modelID)

	if s.store != nil {
		if p, ok, err := s.store.GetPricing(ctx, normalized, region); err == nil && ok {
			return round(p.InputPricePer1k, p.OutputPricePer1k, inputTokens, outputTokens, p.Source)
		}
	}

	s.mu.RLock()
	entry, ok := s.fallback[normalized]
	s.mu.RUnlock()
	if !ok {
		entry = fallbackEntry{inputPer1k: 0.005, outputPer1k: 0.015} // conservative default tier
	}
	return round(entry.inputPer1k, entry.outputPer1k, inputTokens, outputTokens, "fallback")
}

func round(inputPer1k, outputPer1k float64, inputTokens, outputTokens int, source string) Cost {
	inputCost := roundTo8(inputPer1k * float64(inputTokens) / 1000)
	outputCost := roundTo8(outputPer1k * float64(outputTokens) / 1000)
	return Cost{InputCost: inputCost, OutputCost: outputCost, TotalCost: roundTo8(inputCost + outputCost), Source: source}
}

func roundTo8(v float64) float64 {
	const factor = 1e8
	return math.Round(v*factor) / factor
}

func stringPtr(s string) *string { return &s }

func defaultFallbackTable() map[string]fallbackEntry {
	return map[string]fallbackEntry{
		"gpt-4o":             {inputPer1k: 0.0025, outputPer1k: 0.01},
		"gpt-4o-mini":        {inputPer1k: 0.00015, outputPer1k: 0.0006},
		"gpt-4-turbo":        {inputPer1k: 0.01, outputPer1k: 0.03},
		"gpt-3.5-turbo":      {inputPer1k: 0.0005, outputPer1k: 0.0015},
		"claude-3-5-sonnet":  {inputPer1k: 0.003, outputPer1k: 0.015},
		"claude-3-opus":      {inputPer1k: 0.015, outputPer1k: 0.075},
		"claude-3-haiku":     {inputPer1k: 0.00025, outputPer1k: 0.00125},
		"gemini-1.5-pro":     {inputPer1k: 0.00125, outputPer1k: 0.005},
		"gemini-1.5-flash":   {inputPer1k: 0.000075, outputPer1k: 0.0003},
		"nova-pro":           {inputPer1k: 0.0008, outputPer1k: 0.0032},
		"nova-lite":          {inputPer1k: 0.00006, outputPer1k: 0.00024},
	}
}
