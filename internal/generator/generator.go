// Package generator produces quest content from an LLM, falling back to
// deterministic content when the model output is unusable.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"sidequest/internal/domain"
	"sidequest/internal/logger"
)

var ErrNoCompleter = errors.New("generator: no LLM configured")

// Request describes the quest to generate.
type Request struct {
	City         string   `json:"destination_city" validate:"required,max=100"`
	Country      string   `json:"destination_country" validate:"required,max=100"`
	Theme        string   `json:"theme" validate:"required,oneof=adventure relaxation culture nightlife nature"`
	Budget       string   `json:"budget" validate:"required,oneof=budget mid-range luxury"`
	DurationDays int      `json:"duration_days" validate:"min=1,max=30"`
	Interests    []string `json:"user_interests,omitempty" validate:"omitempty,max=10,dive,required,max=40"`
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid generation request: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate normalises whitespace and checks the request.
func (r *Request) Validate() error {
	r.City = strings.TrimSpace(r.City)
	r.Country = strings.TrimSpace(r.Country)
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}

// Result is a generated quest. Fallback is set when the deterministic content
// replaced the model output.
type Result struct {
	Quest    domain.Quest `json:"quest"`
	Fallback bool         `json:"fallback"`
	Reason   string       `json:"reason,omitempty"`
}

type Generator struct {
	LLM         Completer
	Model       string
	Temperature float64
	MaxTokens   int
	ImageURL    string
	ImageQuery  map[string]string
	// FallbackOnError substitutes fallback content when the LLM call fails
	// instead of returning the error.
	FallbackOnError bool
	Now             func() time.Time
	NewID           func() string
	Log             *logger.Logger
}

func (g Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	log := logger.OrNop(g.Log)
	var (
		content generated
		res     Result
	)
	raw, err := g.complete(ctx, req)
	switch {
	case err != nil && !g.FallbackOnError:
		return Result{}, err
	case err != nil:
		log.Warn("quest generation failed, using fallback", "city", req.City, "theme", req.Theme, "error", err)
		content = errorFallback(req)
		res.Fallback, res.Reason = true, err.Error()
	default:
		parsed, perr := parseContent(raw)
		if perr != nil {
			log.Warn("unusable quest content, using fallback", "city", req.City, "theme", req.Theme, "error", perr)
			content = parseFallback(req)
			res.Fallback, res.Reason = true, perr.Error()
		} else {
			content = parsed
		}
	}
	res.Quest = g.quest(req, content)
	return res, nil
}

func (g Generator) complete(ctx context.Context, req Request) (string, error) {
	if g.LLM == nil {
		return "", ErrNoCompleter
	}
	msgs, err := buildMessages(req)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	return g.LLM.Complete(ctx, CompletionRequest{
		Model:       g.Model,
		Messages:    msgs,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
	})
}

func (g Generator) quest(req Request, c generated) domain.Quest {
	now := g.Now
	if now == nil {
		now = time.Now
	}
	newID := g.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	q := domain.Quest{
		ID:                 newID(),
		Name:               c.Name,
		Description:        c.Description,
		Theme:              req.Theme,
		Activities:         c.Activities,
		DestinationCity:    req.City,
		DestinationCountry: req.Country,
		PriceRange:         req.Budget,
		DurationDays:       req.DurationDays,
		CreatedAt:          now().UTC(),
	}
	if img := g.imageURL(req.Theme); img != "" {
		q.ImageURL = &img
	}
	return q
}

func (g Generator) imageURL(theme string) string {
	if g.ImageURL == "" {
		return ""
	}
	if q := g.ImageQuery[theme]; q != "" {
		sep := "?"
		if strings.Contains(g.ImageURL, "?") {
			sep = "&"
		}
		return g.ImageURL + sep + "query=" + q
	}
	return g.ImageURL
}

type generated struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Activities  []string `json:"activities"`
}

const contentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "description", "activities"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string", "minLength": 1},
    "activities": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

const contentSchemaURL = "https://sidequest.local/schemas/quest-content.schema.json"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(contentSchemaURL, strings.NewReader(contentSchema)); err != nil {
		panic(fmt.Sprintf("quest content schema load failed: %v", err))
	}
	s, err := c.Compile(contentSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("quest content schema compile failed: %v", err))
	}
	return s
}

// parseContent strips Markdown fences, then decodes and validates the model output.
func parseContent(raw string) (generated, error) {
	text := stripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return generated{}, fmt.Errorf("decode quest content: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return generated{}, fmt.Errorf("quest content schema: %w", err)
	}
	var out generated
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return generated{}, fmt.Errorf("decode quest content: %w", err)
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Description = strings.TrimSpace(out.Description)
	activities := out.Activities[:0]
	for _, a := range out.Activities {
		if a = strings.TrimSpace(a); a != "" {
			activities = append(activities, a)
		}
	}
	out.Activities = activities
	if out.Name == "" || out.Description == "" || len(out.Activities) == 0 {
		return generated{}, errors.New("quest content has blank fields")
	}
	return out, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func parseFallback(req Request) generated {
	return generated{
		Name:        fmt.Sprintf("%s in %s", titleCase(req.Theme), req.City),
		Description: fmt.Sprintf("Experience the best of %s with this %s-focused adventure.", req.City, req.Theme),
		Activities: []string{
			"explore " + req.City,
			fmt.Sprintf("local %s activities", req.Theme),
			"cultural experiences",
		},
	}
}

func errorFallback(req Request) generated {
	return generated{
		Name:        fmt.Sprintf("%s Adventure in %s", titleCase(req.Theme), req.City),
		Description: fmt.Sprintf("Discover the magic of %s, %s with this carefully curated %s experience.", req.City, req.Country, req.Theme),
		Activities: []string{
			"explore " + req.City,
			req.Theme + " activities",
			"local experiences",
			"photography",
			"local cuisine",
		},
	}
}
