package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubCompleter struct {
	out  string
	err  error
	last CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.last = req
	return s.out, s.err
}

func testGenerator(llm Completer) Generator {
	return Generator{
		LLM:         llm,
		Model:       "gpt-test",
		Temperature: 0.8,
		MaxTokens:   500,
		ImageURL:    "https://img.example/photo?w=800",
		ImageQuery:  map[string]string{"culture": "heritage"},
		Now:         func() time.Time { return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) },
		NewID:       func() string { return "quest-1" },
	}
}

func baseRequest() Request {
	return Request{City: " Kyoto ", Country: "Japan", Theme: "culture", Budget: "luxury", DurationDays: 7, Interests: []string{"food", "history"}}
}

func TestGenerateParsesFencedJSON(t *testing.T) {
	llm := &stubCompleter{out: "```json\n{\"name\":\"Samurai Spirit\",\"description\":\"Walk with ghosts.\",\"activities\":[\" tea ceremony \",\"temple run\"]}\n```"}
	res, err := testGenerator(llm).Generate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	q := res.Quest
	if res.Fallback || q.Name != "Samurai Spirit" || q.DestinationCity != "Kyoto" || q.PriceRange != "luxury" || q.DurationDays != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(q.Activities) != 2 || q.Activities[0] != "tea ceremony" {
		t.Fatalf("activities not trimmed: %v", q.Activities)
	}
	if q.ImageURL == nil || *q.ImageURL != "https://img.example/photo?w=800&query=heritage" {
		t.Fatalf("unexpected image %v", q.ImageURL)
	}
	if llm.last.Model != "gpt-test" || len(llm.last.Messages) != 2 || !strings.Contains(llm.last.Messages[1].Content, "food, history") {
		t.Fatalf("unexpected prompt %+v", llm.last)
	}
}

func TestGenerateFallsBackOnMalformedContent(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`{"name":"","description":"x","activities":["a"]}`,
		`{"name":"X","description":"x","activities":[]}`,
		`{"name":"X","description":"x"}`,
	} {
		res, err := testGenerator(&stubCompleter{out: raw}).Generate(context.Background(), baseRequest())
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if !res.Fallback || res.Quest.Name != "Culture in Kyoto" {
			t.Fatalf("%q: unexpected result %+v", raw, res)
		}
		if res.Quest.Description != "Experience the best of Kyoto with this culture-focused adventure." {
			t.Fatalf("unexpected description %q", res.Quest.Description)
		}
		want := []string{"explore Kyoto", "local culture activities", "cultural experiences"}
		if strings.Join(res.Quest.Activities, "|") != strings.Join(want, "|") {
			t.Fatalf("unexpected activities %v", res.Quest.Activities)
		}
	}
}

func TestGenerateTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	g := testGenerator(&stubCompleter{err: boom})
	if _, err := g.Generate(context.Background(), baseRequest()); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	g.FallbackOnError = true
	res, err := g.Generate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("fallback generate: %v", err)
	}
	if !res.Fallback || res.Quest.Name != "Culture Adventure in Kyoto" || len(res.Quest.Activities) != 5 {
		t.Fatalf("unexpected fallback %+v", res)
	}

	g.LLM = nil
	g.FallbackOnError = false
	if _, err := g.Generate(context.Background(), baseRequest()); !errors.Is(err, ErrNoCompleter) {
		t.Fatalf("expected ErrNoCompleter, got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	cases := map[string]func(r *Request){
		"destination_city": func(r *Request) { r.City = "  " },
		"theme":            func(r *Request) { r.Theme = "space" },
		"budget":           func(r *Request) { r.Budget = "cheap" },
		"duration_days":    func(r *Request) { r.DurationDays = 31 },
	}
	for field, mutate := range cases {
		r := baseRequest()
		mutate(&r)
		err := r.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("%s: field not reported: %v", field, verr.Fields)
		}
	}
	r := baseRequest()
	if err := r.Validate(); err != nil || r.City != "Kyoto" {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestOpenAIClient(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"name\":\"n\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "sk-test", time.Second)
	out, err := c.Complete(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}, Temperature: 0.9, MaxTokens: 400})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"name":"n"}` || got.Model != "m" || got.MaxTokens != 400 || got.Temperature != 0.9 {
		t.Fatalf("unexpected exchange out=%q req=%+v", out, got)
	}

	bad := NewOpenAIClient(srv.URL+"/v1", "wrong", time.Second)
	if _, err := bad.Complete(context.Background(), CompletionRequest{Model: "m"}); err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected api error, got %v", err)
	}
}
