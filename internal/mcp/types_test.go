package mcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateTagsSplitsCompoundNames(t *testing.T) {
	tags := GenerateTags("searchDocuments")
	require.Contains(t, tags, "search")
	require.Contains(t, tags, "documents")
}

func TestGenerateTagsNeverContainsLiteralName(t *testing.T) {
	tags := GenerateTags("list_files")
	for _, tag := range tags {
		require.NotEqual(t, "list_files", tag)
	}
}

func TestGenerateTagsIncludesAbbreviation(t *testing.T) {
	tags := GenerateTags("get_user_profile")
	require.Contains(t, tags, "gup")
}

func TestNewToolDescriptorBuildsCompositeID(t *testing.T) {
	d := NewToolDescriptor("srv1", "lookup", "looks things up", nil)
	require.Equal(t, "srv1.lookup", d.ID)
	require.NotContains(t, d.Tags, "lookup")
}
