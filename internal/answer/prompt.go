package answer

import "strings"

// Prompt is the assembled input for a generation backend.
type Prompt struct {
	System string
	User   string
}

const personaDirective = `You are KrackAI, an elite interview coach.

Respond in first person as the candidate.
Be confident, concise (80-150 words), direct.
No fluff, no hedging.
Use STAR only for behavioral questions.
Quantify achievements when possible.
Sound natural.

Use this resume for context:
%CONTEXT%

Never mention being an AI.`

// BuildPrompt combines the fixed coach persona with the session's
// optional resume/job-description context and the question.
func BuildPrompt(question, contextText string) Prompt {
	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		contextText = "No resume provided."
	}
	return Prompt{
		System: strings.ReplaceAll(personaDirective, "%CONTEXT%", contextText),
		User:   strings.TrimSpace(question),
	}
}
