package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

func parseLocatorFlags(t *testing.T, args ...string) (*cobra.Command, *locatorFlags) {
	t.Helper()
	var loc locatorFlags
	cmd := &cobra.Command{Use: "test"}
	loc.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, &loc
}

func TestLocatorFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want domain.Locator
	}{
		{"page", []string{"--page", "12"}, domain.PageLocator{Page: 12}},
		{"audio track", []string{"--track", "track-3.mp3", "--offset-ms", "90000"},
			domain.AudioLocator{Version: 2, ReadingOrderItem: "track-3.mp3", OffsetMs: 90000}},
		{"href", []string{"--href", "/ch1.xhtml", "--progress", "0.25"},
			domain.HrefProgressionLocator{Href: "/ch1.xhtml", ProgressWithinChapter: 0.25}},
		{"raw page", []string{"--locator", `{"@type":"LocatorPage","page":7}`}, domain.PageLocator{Page: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, loc := parseLocatorFlags(t, tt.args...)
			got, err := loc.locator()
			require.NoError(t, err)
			assert.True(t, domain.SimilarLocators(tt.want, got), "got %#v", got)
		})
	}
}

func TestLocatorFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"none", nil},
		{"two forms", []string{"--page", "3", "--href", "/ch1.xhtml"}},
		{"negative offset", []string{"--track", "t1", "--offset-ms", "-5"}},
		{"progress out of range", []string{"--href", "/ch1.xhtml", "--progress", "1.5"}},
		{"unparseable locator", []string{"--locator", "{not json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, loc := parseLocatorFlags(t, tt.args...)
			_, err := loc.locator()
			assert.Error(t, err)
		})
	}
}

func TestLocatorFlags_Bookmark(t *testing.T) {
	cmd, loc := parseLocatorFlags(t, "--page", "4", "--chapter", "Preface", "--book-progress", "0.1")

	b, err := loc.bookmark(cmd, "urn:isbn:1")
	require.NoError(t, err)
	assert.Equal(t, "urn:isbn:1", b.BookID)
	assert.Equal(t, "Preface", b.ChapterTitle)
	require.NotNil(t, b.ProgressWithinBook)
	assert.InDelta(t, 0.1, *b.ProgressWithinBook, 1e-9)

	cmd, loc = parseLocatorFlags(t, "--page", "4")
	b, err = loc.bookmark(cmd, "urn:isbn:1")
	require.NoError(t, err)
	assert.Nil(t, b.ProgressWithinBook, "unset book progress stays unknown")

	cmd, loc = parseLocatorFlags(t)
	_, err = loc.bookmark(cmd, "urn:isbn:1")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
