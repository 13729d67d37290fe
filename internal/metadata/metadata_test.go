package metadata

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const samplePage = `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"My Game","aggregateRating":{"ratingValue":"4.5","ratingCount":10}}</script>
<meta property="og:image" content="https://img.itch.zone/cover.png">
<meta property="og:description" content="a short description">
</head><body>
<h1 class="game_title">Fallback Title</h1>
<div class="screenshot_list"><a href="https://img.itch.zone/sc1.png"></a><a href="https://img.itch.zone/sc2.png"></a></div>
<div class="game_info_panel_widget"><table>
<tr><td>Author</td><td><a href="https://dev.itch.io">Dev</a></td></tr>
<tr><td>Published</td><td><abbr title="01 January 2024 @ 15:00 UTC">Jan 01, 2024</abbr></td></tr>
<tr><td>Platforms</td><td><a href="/games/windows">Windows</a><a href="/games/linux">Linux</a></td></tr>
<tr><td>Tags</td><td><a href="https://itch.io/games/tag-horror">Horror</a></td></tr>
<tr><td>Rating</td><td>whatever</td></tr>
</table></div>
</body></html>`

func TestExtractFullPage(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, samplePage)
	meta, err := Extract(42, "https://dev.itch.io/my-game", doc)
	require.NoError(t, err)

	assert.EqualValues(t, 42, meta.GameID)
	assert.Equal(t, "My Game", meta.Title)
	assert.Equal(t, "a short description", meta.Description)
	assert.Equal(t, "https://img.itch.zone/cover.png", meta.CoverURL)
	assert.Equal(t, []string{"https://img.itch.zone/sc1.png", "https://img.itch.zone/sc2.png"}, meta.Screenshots)
	assert.Equal(t, "Dev", meta.Author)
	assert.Equal(t, "https://dev.itch.io", meta.AuthorURL)
	assert.Equal(t, "2024-01-01T15:00:00.000Z", meta.PublishedAt)
	require.NotNil(t, meta.Rating)
	assert.InDelta(t, 4.5, meta.Rating.Average, 0.001)
	assert.EqualValues(t, 10, meta.Rating.Votes)

	assert.Equal(t, []string{"Windows", "Linux"}, meta.Extra["platforms"])
	assert.Equal(t, map[string]string{"Horror": "https://itch.io/games/tag-horror"}, meta.Extra["tags"])
	// Dated fields are promoted out of the attribute bag; Rating rows are
	// never stored there.
	assert.NotContains(t, meta.Extra, "published_at")
	assert.NotContains(t, meta.Extra, "author")
}

func TestExtractTitleFallsBackToHeading(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, `<html><body><h1 class="game_title"> Plain Game </h1></body></html>`)
	meta, err := Extract(1, "https://dev.itch.io/plain", doc)
	require.NoError(t, err)
	assert.Equal(t, "Plain Game", meta.Title)
	assert.Nil(t, meta.Rating)
	assert.Empty(t, meta.Screenshots)
}

func TestExtractMalformedRatingOmitted(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"G","aggregateRating":{"ratingValue":"not-a-number","ratingCount":3}}</script>
</head></html>`)
	meta, err := Extract(1, "https://dev.itch.io/g", doc)
	require.NoError(t, err)
	assert.Equal(t, "G", meta.Title)
	assert.Nil(t, meta.Rating)
}

func TestExtractMultipleAuthors(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, `<html><body><div class="game_info_panel_widget"><table>
<tr><td>Authors</td><td><a href="https://a.itch.io">A</a><a href="https://b.itch.io">B</a></td></tr>
</table></div></body></html>`)
	meta, err := Extract(1, "https://team.itch.io/jointly", doc)
	require.NoError(t, err)
	assert.Equal(t, "Multiple authors", meta.Author)
	assert.Equal(t, "https://team.itch.io", meta.AuthorURL)
	assert.Equal(t, map[string]string{"A": "https://a.itch.io", "B": "https://b.itch.io"}, meta.Extra["authors"])
}

func TestExtractUnknownInfoboxRowFails(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, `<html><body><div class="game_info_panel_widget"><table>
<tr><td>Quantum State</td><td>entangled</td></tr>
</table></div></body></html>`)
	_, err := Extract(1, "https://dev.itch.io/g", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quantum State")
}

func TestParseDateBlock(t *testing.T) {
	t.Parallel()

	doc := docFromHTML(t, `<td><abbr title="15 March 2023 @ 08:30 UTC">x</abbr></td>`)
	ts, err := parseDateBlock(doc.Find("td"))
	require.NoError(t, err)
	assert.Equal(t, "2023-03-15T08:30:00.000Z", ts.UTC().Format(isoFormat))

	doc = docFromHTML(t, `<td>no abbr here</td>`)
	_, err = parseDateBlock(doc.Find("td"))
	assert.Error(t, err)
}
