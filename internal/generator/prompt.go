package generator

import (
	"strings"
	"text/template"
)

const systemPrompt = "You are a creative travel expert who designs exciting, themed travel experiences. You specialize in creating catchy names and compelling descriptions that make people excited about traveling."

var userPrompt = template.Must(template.New("quest").Funcs(template.FuncMap{"join": strings.Join}).Parse(`Create a themed travel quest for {{.City}}, {{.Country}}.

Requirements:
- Theme: {{.Theme}}
- Budget: {{.Budget}}
- Duration: {{.DurationDays}} days
- User interests: {{if .Interests}}{{join .Interests ", "}}{{else}}general travel{{end}}

Generate:
1. A creative, catchy quest name (like "Pirates of the Caribbean" or "Tokyo Neon Dreams")
2. An exciting 1-2 sentence description that makes someone want to book immediately
3. 5-7 specific activities that match the theme and location
4. Make it sound like an adventure, not just a regular trip

Respond with JSON only:
{
  "name": "Quest Name",
  "description": "Exciting description here...",
  "activities": ["activity1", "activity2", "activity3", "activity4", "activity5"]
}
`))

func buildMessages(req Request) ([]Message, error) {
	var b strings.Builder
	if err := userPrompt.Execute(&b, req); err != nil {
		return nil, err
	}
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}, nil
}
