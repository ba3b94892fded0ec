package engine

import (
	"strings"
	"testing"

	"vitalpath/models"
)

func sampleTokens() map[string]string {
	return map[string]string{
		"first_name":        "Jordan",
		"last_name":         "Reyes",
		"email":             "jordan@example.com",
		"lessons_left":      "8",
		"lessons_completed": "2",
		"progress":          "20%",
		"unsubscribe_url":   "https://app.vitalpath.co/unsubscribe/tok",
	}
}

func TestRenderSubstitutesTokens(t *testing.T) {
	step := models.SequenceStep{
		Subject: "{{first_name}}, you're at {{progress}}",
		Body:    "<p>Hey {{first_name}}, only {{lessons_left}} lessons left.</p>",
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if result.Subject != "Jordan, you're at 20%" {
		t.Errorf("unexpected subject: %q", result.Subject)
	}
	if !strings.Contains(result.HTML, "Hey Jordan, only 8 lessons left.") {
		t.Errorf("HTML missing substituted body: %q", result.HTML)
	}
	if !strings.Contains(result.Text, "Hey Jordan, only 8 lessons left.") {
		t.Errorf("text missing substituted body: %q", result.Text)
	}
	if len(result.Missing) != 0 {
		t.Errorf("expected no missing tokens, got %v", result.Missing)
	}
}

func TestRenderDeterministic(t *testing.T) {
	step := models.SequenceStep{
		Subject:    "Hello {{first_name}}",
		Body:       "<p>{{cta}}</p>",
		RenderMode: models.RenderBranded,
		CTALabel:   "Go",
		CTAURL:     "https://app.vitalpath.co/lessons",
	}

	first, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	second, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if first.Subject != second.Subject || first.HTML != second.HTML || first.Text != second.Text {
		t.Error("repeated renders with identical inputs produced different output")
	}
}

func TestRenderMissingTokenStaysLiteral(t *testing.T) {
	step := models.SequenceStep{
		Subject: "Hi {{first_name}}",
		Body:    "<p>Your code is {{promo_code}}.</p>",
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if !strings.Contains(result.HTML, "{{promo_code}}") {
		t.Errorf("missing token was not left literal: %q", result.HTML)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "promo_code" {
		t.Errorf("expected missing = [promo_code], got %v", result.Missing)
	}
}

func TestRenderEmptyContentFails(t *testing.T) {
	if _, err := Render(models.SequenceStep{Subject: "hi", Body: "  "}, sampleTokens()); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := Render(models.SequenceStep{Subject: "", Body: "<p>x</p>"}, sampleTokens()); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestRenderCTAInBothEncodings(t *testing.T) {
	step := models.SequenceStep{
		Subject:    "One step left",
		Body:       "<p>Ready?</p>{{cta}}",
		RenderMode: models.RenderBranded,
		CTALabel:   "Start lesson one",
		CTAURL:     "https://app.vitalpath.co/lessons/1",
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if !strings.Contains(result.HTML, `class="button"`) {
		t.Errorf("branded CTA should render as a button: %q", result.HTML)
	}
	if !strings.Contains(result.HTML, step.CTAURL) {
		t.Error("HTML missing CTA URL")
	}
	if !strings.Contains(result.Text, "Start lesson one: https://app.vitalpath.co/lessons/1") {
		t.Errorf("text missing CTA line: %q", result.Text)
	}
}

func TestRenderMinimalCTAIsPlainLink(t *testing.T) {
	step := models.SequenceStep{
		Subject:    "One step left",
		Body:       "{{cta}}",
		RenderMode: models.RenderMinimal,
		CTALabel:   "Go",
		CTAURL:     "https://app.vitalpath.co/go",
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(result.HTML, `class="button"`) {
		t.Error("minimal mode should not render a button")
	}
	if !strings.Contains(result.HTML, `<a href="https://app.vitalpath.co/go">Go</a>`) {
		t.Errorf("minimal CTA should be a bare link: %q", result.HTML)
	}
}

func TestRenderLinksAppearInText(t *testing.T) {
	step := models.SequenceStep{
		Subject: "Links",
		Body:    `<p>Read <a href="https://app.vitalpath.co/stories/dana">Dana's story</a> today.</p>`,
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(result.Text, "Dana's story (https://app.vitalpath.co/stories/dana)") {
		t.Errorf("link URL lost in text encoding: %q", result.Text)
	}
}

func TestRenderUnsubscribeFooter(t *testing.T) {
	step := models.SequenceStep{
		Subject:    "Footer",
		Body:       "<p>Body.</p>",
		RenderMode: models.RenderBranded,
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	unsub := "https://app.vitalpath.co/unsubscribe/tok"
	if !strings.Contains(result.HTML, unsub) {
		t.Error("HTML missing unsubscribe link")
	}
	if !strings.Contains(result.Text, "Unsubscribe: "+unsub) {
		t.Errorf("text missing unsubscribe line: %q", result.Text)
	}
}

func TestRenderBrandedWrapper(t *testing.T) {
	step := models.SequenceStep{
		Subject:    "Welcome",
		Body:       "<p>Hi.</p>",
		RenderMode: models.RenderBranded,
	}

	result, err := Render(step, sampleTokens())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(result.HTML, "VitalPath Coaching") {
		t.Error("branded wrapper missing header")
	}
	if strings.Contains(result.Text, "<") {
		t.Errorf("text encoding contains markup: %q", result.Text)
	}
}
