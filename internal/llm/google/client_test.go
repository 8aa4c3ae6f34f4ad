package google

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/llm"
)

func TestToContentsRequiresMessages(t *testing.T) {
	_, err := toContents(nil)
	require.Error(t, err)
}

func TestToContentsRejectsUnknownRole(t *testing.T) {
	_, err := toContents([]llm.Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
}

func TestToContentsMapsSystemToUserPrefix(t *testing.T) {
	contents, err := toContents([]llm.Message{{Role: "system", Content: "be terse"}})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Equal(t, "user", contents[0].Role)
	require.Contains(t, contents[0].Parts[0].Text, "be terse")
}

func TestAdaptToolsRequiresName(t *testing.T) {
	_, _, err := adaptTools([]llm.ToolSchema{{Description: "no name"}})
	require.Error(t, err)
}

func TestAdaptToolsEmptyReturnsNil(t *testing.T) {
	tools, cfg, err := adaptTools(nil)
	require.NoError(t, err)
	require.Nil(t, tools)
	require.Nil(t, cfg)
}
