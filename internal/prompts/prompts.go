// Package prompts holds every instruction sent to the vision and text models.
package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Annotation prompts (vision model)
// ============================================================================

// DescribePrompt asks for a one-line identifying description of an item photo.
const DescribePrompt = `Provide a one-line, highly detailed description of the apparel that highlights unique features, style, and any distinguishing patterns or colors. Make the description precise and unique enough to easily identify this item among similar apparel. Don't give details that are not visible. Return only the descriptive phrase in one line.`

// TitlePrompt asks for a short display title.
const TitlePrompt = `Give a very short 2-4 word title for this apparel item. Make it concise and descriptive. Return only the title.`

// ClassifyPrompt asks for exactly one category label.
const ClassifyPrompt = `What type of apparel is this? Choose exactly one category from: [top, bottom, outerwear, full-body]. Return only the category name in lowercase.`

// ============================================================================
// Suggestion prompts (text model)
// ============================================================================

// StylistSystemPrompt frames every suggestion request.
const StylistSystemPrompt = `You are a fashion stylist. Answer with a single line of plain text describing one apparel piece. Do not use lists, quotes or explanations.`

const randomTemplate = `Given this bottom apparel: "%s"
Suggest a compatible top that would create a stylish outfit.
Consider color coordination, style matching, and overall aesthetic harmony.
Return only a single-line detailed description of the ideal top piece.`

const complementTemplate = `Given this %s: "%s"
Suggest a complementary %s that would create a stylish outfit.
Consider color coordination, style matching, and overall aesthetic harmony.
Return only a single-line detailed description of the ideal %s piece.`

const textBottomTemplate = `Given this user requirement: "%s"
Suggest a bottom apparel description that matches this requirement.
Return only a single-line description of the ideal bottom piece.`

const textTopTemplate = `Given this user requirement: "%s" and bottom item: "%s"
Suggest a compatible top apparel description that matches this bottom item.
Return only a single-line description of the ideal top piece.`

// RandomTop builds the prompt used when a random bottom anchors the outfit.
func RandomTop(bottomDescription string) string {
	return fmt.Sprintf(randomTemplate, bottomDescription)
}

// Complement builds the prompt for an item-anchored recommendation.
func Complement(anchorType, anchorDescription, target string) string {
	return fmt.Sprintf(complementTemplate, anchorType, anchorDescription, target, target)
}

// TextBottom builds the first prompt of the text-anchored flow.
func TextBottom(requirement string) string {
	return fmt.Sprintf(textBottomTemplate, requirement)
}

// TextTop builds the second prompt of the text-anchored flow, seeded with
// the description of the bottom that was matched.
func TextTop(requirement, bottomDescription string) string {
	return fmt.Sprintf(textTopTemplate, requirement, bottomDescription)
}

// CleanLine reduces a model reply to a single trimmed line without wrapping quotes.
func CleanLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\r\n"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}
	return strings.Trim(s, "\"'` ")
}
