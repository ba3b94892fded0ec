package engine

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"vitalpath/models"
)

// RenderResult is the fully rendered content for one step. Subject, HTML and
// Text are byte-identical across calls with the same inputs.
type RenderResult struct {
	Subject string
	HTML    string
	Text    string

	// Missing lists tokens that had no context value. The literal marker is
	// left in place; a missing token never blocks delivery.
	Missing []string
}

const ctaToken = "cta"

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Render substitutes placeholder tokens into a step's subject and body and
// produces both HTML and plain-text encodings. It is pure: no clock reads, no
// I/O, no randomness. Body markup is trusted content from the template store
// and is passed through untouched.
func Render(step models.SequenceStep, tokens map[string]string) (RenderResult, error) {
	if strings.TrimSpace(step.Subject) == "" || strings.TrimSpace(step.Body) == "" {
		return RenderResult{}, fmt.Errorf("step %d has empty subject or body", step.ID)
	}

	var missing []string

	subject := substitute(step.Subject, tokens, "", &missing)

	htmlBody := substitute(step.Body, tokens, ctaHTML(step), &missing)
	textBody := substitute(step.Body, tokens, ctaText(step), nil)

	result := RenderResult{
		Subject: subject,
		HTML:    wrapHTML(step.RenderMode, subject, htmlBody, tokens["unsubscribe_url"]),
		Text:    flattenText(textBody, tokens["unsubscribe_url"]),
		Missing: missing,
	}
	return result, nil
}

// substitute replaces every recognized token with its context value. The cta
// token expands to the provided block; unknown tokens stay literal and are
// recorded once in missing.
func substitute(s string, tokens map[string]string, cta string, missing *[]string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if name == ctaToken {
			return cta
		}
		if value, ok := tokens[name]; ok {
			return value
		}
		if missing != nil && !contains(*missing, name) {
			*missing = append(*missing, name)
		}
		return match
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ctaHTML expands the step's call-to-action descriptor for the HTML encoding:
// a styled button in branded mode, a bare link in minimal mode.
func ctaHTML(step models.SequenceStep) string {
	if step.CTAURL == "" {
		return ""
	}
	label := step.CTALabel
	if label == "" {
		label = step.CTAURL
	}
	if step.RenderMode == models.RenderBranded {
		return fmt.Sprintf(`<p style="text-align: center;"><a href="%s" class="button">%s</a></p>`, step.CTAURL, label)
	}
	return fmt.Sprintf(`<p><a href="%s">%s</a></p>`, step.CTAURL, label)
}

// ctaText expands the call-to-action for the plain-text encoding. The URL must
// appear verbatim so both encodings carry the same links.
func ctaText(step models.SequenceStep) string {
	if step.CTAURL == "" {
		return ""
	}
	if step.CTALabel != "" {
		return fmt.Sprintf("<p>%s: %s</p>", step.CTALabel, step.CTAURL)
	}
	return fmt.Sprintf("<p>%s</p>", step.CTAURL)
}

const brandedWrapper = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c7a4b; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .button { display: inline-block; padding: 12px 24px; background-color: #2c7a4b; color: white; text-decoration: none; border-radius: 4px; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>VitalPath Coaching</h2>
    </div>

    <div class="content">%s</div>
%s</body>
</html>`

// wrapHTML applies the branded or minimal HTML wrapper around the substituted
// body and appends the unsubscribe footer when a link is available.
func wrapHTML(renderMode, subject, body, unsubscribeURL string) string {
	footer := ""
	if unsubscribeURL != "" {
		footer = fmt.Sprintf(`    <div class="footer"><a href="%s">Unsubscribe</a></div>
`, unsubscribeURL)
	}

	if renderMode == models.RenderBranded {
		return fmt.Sprintf(brandedWrapper, subject, body, footer)
	}

	if footer == "" {
		return fmt.Sprintf("<div>%s</div>", body)
	}
	return fmt.Sprintf("<div>%s</div>\n%s", body, footer)
}

var (
	breakPattern  = regexp.MustCompile(`(?i)<br\s*/?>`)
	closePPattern = regexp.MustCompile(`(?i)</p>`)
	linkPattern   = regexp.MustCompile(`(?is)<a\s+href="([^"]+)"[^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// flattenText derives the plain-text encoding from the substituted body:
// block separators become blank lines, links become "label (url)" so every URL
// present in the HTML also appears in the text.
func flattenText(body, unsubscribeURL string) string {
	text := breakPattern.ReplaceAllString(body, "\n")
	text = closePPattern.ReplaceAllString(text, "\n\n")
	text = linkPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		url, label := parts[1], strings.TrimSpace(tagPattern.ReplaceAllString(parts[2], ""))
		if label == "" || label == url {
			return url
		}
		return fmt.Sprintf("%s (%s)", label, url)
	})
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	// Tidy line endings without disturbing content
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	text = strings.Join(lines, "\n")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if unsubscribeURL != "" {
		text += "\n\nUnsubscribe: " + unsubscribeURL
	}
	return text
}
