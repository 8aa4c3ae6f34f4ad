package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"

	"relaycore/internal/persistence"
)

func TestNormalizeModelIDStripsProviderAndVersion(t *testing.T) {
	require.Equal(t, "gpt-4o", NormalizeModelID("azure/gpt-4o-2024-08-06"))
	require.Equal(t, "claude-3-5-sonnet", NormalizeModelID("anthropic.claude-3-5-sonnet-20241022"))
	require.Equal(t, "gemini-1.5-pro", NormalizeModelID("google/gemini-1.5-pro"))
}

func TestCalculateCostUsesStoreBeforeFallback(t *testing.T) {
	store := persistence.NewMemoryPricingStore()
	require.NoError(t, store.UpsertPricing(context.Background(), persistence.ModelPricing{
		ModelID: "gpt-4o", InputPricePer1k: 0.01, OutputPricePer1k: 0.02, Source: "aws-api",
	}))
	svc := New(nil, store)

	cost := svc.CalculateCost(context.Background(), "gpt-4o", 1000, 500, "")
	require.Equal(t, "aws-api", cost.Source)
	require.InDelta(t, 0.01, cost.InputCost, 1e-9)
	require.InDelta(t, 0.01, cost.OutputCost, 1e-9)
	require.InDelta(t, 0.02, cost.TotalCost, 1e-9)
}

func TestCalculateCostFallsBackWhenUnknownModel(t *testing.T) {
	svc := New(nil, persistence.NewMemoryPricingStore())
	cost := svc.CalculateCost(context.Background(), "some-unlisted-model", 1000, 1000, "")
	require.Equal(t, "fallback", cost.Source)
	require.Greater(t, cost.TotalCost, 0.0)
}

func TestCalculateCostKnownFallbackEntry(t *testing.T) {
	svc := New(nil, persistence.NewMemoryPricingStore())
	cost := svc.CalculateCost(context.Background(), "gpt-4o-mini", 1000, 1000, "")
	require.Equal(t, "fallback", cost.Source)
	require.InDelta(t, 0.00015, cost.InputCost, 1e-9)
	require.InDelta(t, 0.0006, cost.OutputCost, 1e-9)
}

func TestTokenizerCountsNonzeroTokens(t *testing.T) {
	tok := NewTokenizer()
	n := tok.Count("gpt-4o", "the quick brown fox jumps over the lazy dog")
	require.Greater(t, n, 0)
}

func TestTokenizerFallsBackForUnknownModel(t *testing.T) {
	tok := NewTokenizer()
	n := tok.Count("claude-3-5-sonnet", "hello world")
	require.Greater(t, n, 0)
}

const samplePriceListDoc = `{
	"product": {"attributes": {"model": "anthropic.claude-3-5-sonnet-20241022"}},
	"terms": {
		"OnDemand": {
			"ABCDEF": {
				"priceDimensions": {
					"ABCDEF.JRTCKXETXF": {
						"unit": "Tokens",
						"description": "Anthropic Claude 3.5 Sonnet (Input)",
						"pricePerUnit": {"USD": "0.0000030000"}
					},
					"ABCDEF.6YS6EN2CT7": {
						"unit": "Tokens",
						"description": "Anthropic Claude 3.5 Sonnet (Output)",
						"pricePerUnit": {"USD": "0.0000150000"}
					}
				}
			}
		}
	}
}`

func TestParsePriceListItemExtractsInputAndOutputRates(t *testing.T) {
	entry, modelID, ok := parsePriceListItem(samplePriceListDoc)
	require.True(t, ok)
	require.Equal(t, "claude-3-5-sonnet", modelID)
	require.InDelta(t, 0.003, entry.inputPer1k, 1e-9)
	require.InDelta(t, 0.015, entry.outputPer1k, 1e-9)
}

func TestParsePriceListItemRejectsMalformedJSON(t *testing.T) {
	_, _, ok := parsePriceListItem("not json")
	require.False(t, ok)
}

func TestParsePriceListItemRejectsMissingModelAttribute(t *testing.T) {
	_, _, ok := parsePriceListItem(`{"product":{"attributes":{}},"terms":{"OnDemand":{}}}`)
	require.False(t, ok)
}

type fakeAWSPricingClient struct {
	docs []string
}

func (f fakeAWSPricingClient) GetProducts(ctx context.Context, params *awspricing.GetProductsInput, optFns ...func(*awspricing.Options)) (*awspricing.GetProductsOutput, error) {
	return &awspricing.GetProductsOutput{PriceList: f.docs}, nil
}

func TestRefreshOnceUpsertsParsedEntriesIntoStore(t *testing.T) {
	store := persistence.NewMemoryPricingStore()
	svc := New(fakeAWSPricingClient{docs: []string{samplePriceListDoc}}, store)

	svc.refreshOnce(context.Background())

	p, ok, err := store.GetPricing(context.Background(), "claude-3-5-sonnet", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "aws-api", p.Source)
	require.InDelta(t, 0.003, p.InputPricePer1k, 1e-9)
}
