package service

import (
	"fmt"
	"strings"

	"github.com/unclebandit/newsletter-backend/internal/llm"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

const writerSystemPrompt = "You are a professional newsletter writer specializing in business content. " +
	"Follow the requested output format exactly."

// sectionOutlines describe the body of each section kind.
var sectionOutlines = map[model.SectionKind]string{
	model.SectionPainPoint: `Introduction: one paragraph outlining a critical pain point specific to the industry.
Why It Matters: three bullet lines starting with "- ", tailored to the industry.
The Solution: how the company addresses the pain point.
The Takeaway: a strong summary with a call to action, on one line starting with "The Takeaway:".`,
	model.SectionCommonMistakes: `Introduction: one paragraph introducing common mistakes specific to the industry.
Mistakes to Avoid: three bullet lines starting with "- ", tailored to the industry.
How %[1]s Helps: specific ways the company assists clients.
The Takeaway: an encouraging summary and call to action, on one line starting with "The Takeaway:".`,
	model.SectionCompanySolutions: `Introduction: one paragraph introducing the company's solutions.
How %[1]s Helps: three bullet lines starting with "- ", tailored to the industry.
Why It's a Game-Changer: the transformative impact of the solution.
The Takeaway: encourage the reader to take the next step, on one line starting with "The Takeaway:".`,
}

// imageRules are appended to every image prompt.
const imageRules = "Ultra-realistic professional photograph, natural lighting, shallow depth of field. " +
	"No people. No text, letters or logos."

func summaryPrompt(c *model.Company) llm.Prompt {
	return llm.Prompt{
		System: writerSystemPrompt,
		User: fmt.Sprintf(`Write a brief summary about the %s industry, focusing on 5-7 key trends and opportunities relevant to %s.
Context: %s
Company: %s`,
			c.Industry, c.Audience(), orDefault(c.AudienceDescription, "Business professionals"), c.CompanyName),
	}
}

func sectionPrompt(kind model.SectionKind, c *model.Company, n *model.Newsletter, summary string) llm.Prompt {
	outline := sectionOutlines[kind]
	if strings.Contains(outline, "%[1]s") {
		outline = fmt.Sprintf(outline, c.CompanyName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write the %q section of a three-section newsletter.\n\n", kind.Label())
	b.WriteString("Company Information:\n")
	fmt.Fprintf(&b, "Company Name: %s\n", c.CompanyName)
	fmt.Fprintf(&b, "Industry: %s\n", c.Industry)
	fmt.Fprintf(&b, "Target Audience: %s\n", c.Audience())
	if c.WebsiteURL != "" {
		fmt.Fprintf(&b, "Website URL: %s\n", c.WebsiteURL)
	}
	if n.NewsletterObjectives != "" {
		fmt.Fprintf(&b, "Newsletter Objectives: %s\n", n.NewsletterObjectives)
	}
	if n.PrimaryCTA != "" {
		fmt.Fprintf(&b, "Primary Call To Action: %s\n", n.PrimaryCTA)
	}
	fmt.Fprintf(&b, "Industry Insights:\n%s\n\n", strings.TrimSpace(summary))
	fmt.Fprintf(&b, "Section content, one item per line:\n%s\n\n", outline)
	b.WriteString(`Respond with only a JSON object, no prose and no code fences:
{"title": "<dynamic headline>", "content": "<section body, lines separated by \n>", "image_prompt": "<visual theme for this section, under 200 characters>"}`)

	return llm.Prompt{System: writerSystemPrompt, User: b.String()}
}

func imageRequest(imagePrompt string) string {
	return strings.TrimSpace(imagePrompt) + ". " + imageRules
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
