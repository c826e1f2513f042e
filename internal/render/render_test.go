package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

func sampleSections() []model.Section {
	return []model.Section{
		{
			Position: 1,
			Kind:     model.SectionPainPoint,
			Title:    "Rising Costs",
			Content:  "Costs keep climbing.\n\n- Energy\n- Labor\nKey Takeaway: plan ahead",
			ImageURL: "https://cdn.example.com/1.png",
		},
		{Position: 2, Kind: model.SectionCommonMistakes, Title: "Mistakes", Content: "Ignoring **data**."},
		{Position: 3, Kind: model.SectionCompanySolutions, Title: "Solutions", Content: "- One\nBreak\n- Two"},
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Acme - Industry Newsletter", Subject("Acme"))
}

func TestHTML(t *testing.T) {
	out, err := HTML("Acme", sampleSections())
	require.NoError(t, err)

	assert.Contains(t, out, "<h1>Acme Newsletter</h1>")
	assert.Contains(t, out, `<h2 class="section-title">Rising Costs</h2>`)
	assert.Contains(t, out, `<img src="https://cdn.example.com/1.png" alt="Rising Costs" class="section-image">`)
	assert.Contains(t, out, "<li>Energy</li>")
	assert.Contains(t, out, "<li>Labor</li>")
	assert.Contains(t, out, `<div class="takeaway">Key Takeaway: plan ahead</div>`)
	assert.Contains(t, out, "<p>Ignoring <strong>data</strong>.</p>")
	assert.Equal(t, 1, strings.Count(out, "<img "))
}

func TestHTML_EscapesModelOutput(t *testing.T) {
	out, err := HTML("A&B", []model.Section{{Title: "<b>x</b>", Content: "<script>alert(1)</script>"}})
	require.NoError(t, err)

	assert.Contains(t, out, "A&amp;B Newsletter")
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
	assert.NotContains(t, out, "<script>")
}

func TestBlocks(t *testing.T) {
	got := blocks("- One\n- Two\nBreak\n- Three\n   \nThe takeaway here")
	require.Len(t, got, 4)

	assert.Equal(t, bulletBlock, got[0].Kind)
	assert.Len(t, got[0].Items, 2)
	assert.Equal(t, paragraphBlock, got[1].Kind)
	assert.Equal(t, bulletBlock, got[2].Kind)
	assert.Len(t, got[2].Items, 1)
	assert.Equal(t, takeawayBlock, got[3].Kind)
}

func TestInline_BlockMarkdownFallsBackToText(t *testing.T) {
	assert.Equal(t, "# Heading", string(inline("# Heading")))
	assert.Equal(t, "<em>soft</em> launch", string(inline("*soft* launch")))
}

func TestText(t *testing.T) {
	out := Text("Acme", sampleSections())

	assert.True(t, strings.HasPrefix(out, "Acme Newsletter\n\n"))
	assert.Contains(t, out, "Rising Costs\nCosts keep climbing.")
	assert.Contains(t, out, "Solutions\n- One\nBreak\n- Two\n\n")
}
