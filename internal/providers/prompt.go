package providers

import (
	"fmt"
	"strings"

	"aquascene/scribe/internal/content"
)

const systemPrompt = "You are the content writer for an aquascaping brand. " +
	"Write accurate, welcoming copy for aquarium hobbyists. Output the finished " +
	"piece only, with no preamble."

var typeInstructions = map[content.ContentType]string{
	content.TypeArticle:       "Write a newsletter article in markdown with an engaging title heading, at least three sections, and a closing call to action.",
	content.TypeSocialCaption: "Write a short Instagram caption. Include 3-5 relevant hashtags. Keep it under 300 characters unless told otherwise.",
	content.TypeGuide:         "Write a step-by-step how-to guide in markdown with a title heading, numbered steps, and a section on common mistakes.",
	content.TypeReview:        "Write a balanced product review in markdown covering strengths, weaknesses, and a verdict section.",
	content.TypeDigest:        "Write a weekly digest in markdown summarizing multiple items as short sections with headings.",
	content.TypeInterview:     "Write an interview piece in markdown alternating questions and answers, with an introduction of the guest.",
	content.TypeCommunityPost: "Write a friendly community forum post that invites discussion and ends with a question to readers.",
}

// buildMessages turns a content request into the system/user prompt pair all
// adapters share. Deterministic for identical requests.
func buildMessages(req content.Request) (string, string) {
	var b strings.Builder

	if inst, ok := typeInstructions[req.ContentType]; ok {
		b.WriteString(inst)
	} else {
		fmt.Fprintf(&b, "Write a %s.", string(req.ContentType))
	}
	fmt.Fprintf(&b, "\n\nTopic: %s", req.Topic)

	if req.TargetAudience != "" {
		fmt.Fprintf(&b, "\nTarget audience: %s", req.TargetAudience)
	}
	if req.Constraints.Tone != "" {
		fmt.Fprintf(&b, "\nTone: %s", req.Constraints.Tone)
	}
	if len(req.Constraints.RequiredKeywords) > 0 {
		fmt.Fprintf(&b, "\nMust mention: %s", strings.Join(req.Constraints.RequiredKeywords, ", "))
	}
	if req.Constraints.MaxLength > 0 {
		fmt.Fprintf(&b, "\nMaximum length: %d characters.", req.Constraints.MaxLength)
	}
	if req.Constraints.MinLength > 0 {
		fmt.Fprintf(&b, "\nMinimum length: %d characters.", req.Constraints.MinLength)
	}
	for _, flag := range req.OptimizationFlags {
		fmt.Fprintf(&b, "\nOptimization hint: %s", flag)
	}

	return systemPrompt, b.String()
}
