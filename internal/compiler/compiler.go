// Package compiler renders a campaign's template against a recipient's
// variables and, separately, rewrites the result for open/click
// tracking. Both steps are pure functions of their inputs: Compile never
// mutates the resolved template, InjectTracking never mutates html.
package compiler

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/sendcore/engine/internal/domain"
)

// LiquidCompiler is the Compiler backed by github.com/osteele/liquid.
// Parsed templates are cached by templateRef since a recurring campaign
// or an active sequence step renders the same markup on every fire.
type LiquidCompiler struct {
	templates domain.TemplateRepository
	engine    *liquid.Engine
	parsed    sync.Map // templateRef -> *liquid.Template
}

// NewLiquidCompiler wires a LiquidCompiler against templates.
func NewLiquidCompiler(templates domain.TemplateRepository) *LiquidCompiler {
	return &LiquidCompiler{
		templates: templates,
		engine:    liquid.NewEngine(),
	}
}

// Compile resolves templateRef, renders it against data, and returns the
// resulting HTML. A variable present in the template but absent from
// data renders as empty, matching the teacher's lax-mode render policy;
// production sends should never surface a raw Liquid parse error to a
// recipient.
func (c *LiquidCompiler) Compile(ctx context.Context, templateRef string, data map[string]string, baseURL string) (string, error) {
	tpl, err := c.parsedTemplate(ctx, templateRef)
	if err != nil {
		return "", err
	}

	bindings := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		bindings[k] = v
	}
	bindings["base_url"] = baseURL

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("compiler: render %s: %w", templateRef, err)
	}
	return out, nil
}

func (c *LiquidCompiler) parsedTemplate(ctx context.Context, templateRef string) (*liquid.Template, error) {
	if cached, ok := c.parsed.Load(templateRef); ok {
		return cached.(*liquid.Template), nil
	}

	raw, err := c.templates.GetHTML(ctx, templateRef)
	if err != nil {
		return nil, fmt.Errorf("compiler: resolve %s: %w", templateRef, err)
	}

	tpl, err := c.engine.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("compiler: parse %s: %w", templateRef, err)
	}

	c.parsed.Store(templateRef, tpl)
	return tpl, nil
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// SubstituteSubject replaces {{var}} placeholders in subject using data.
// A key missing from data is left as the literal placeholder, matching
// the Campaign Executor's per-recipient subject substitution rule.
func (c *LiquidCompiler) SubstituteSubject(subject string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(subject, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return match
	})
}

var anchorHrefRe = regexp.MustCompile(`(?i)(<a\s+[^>]*href\s*=\s*")([^"]*)(")`)

// openPixelURL and clickURL build the tracking redirect URLs embedded in
// compiled HTML; internal/engine.TrackingService mints and resolves the
// tokens these URLs carry, but owns no URL-building of its own.
func openPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/t/%s/open.gif", strings.TrimRight(baseURL, "/"), token)
}

func clickURL(baseURL, token string, linkIndex int, originalURL string) string {
	return fmt.Sprintf("%s/t/%s/c/%d?url=%s", strings.TrimRight(baseURL, "/"), token, linkIndex, url.QueryEscape(originalURL))
}

// skipTracking reports whether target is exempt from click-tracking
// rewriting: mailto:/tel: links, same-page anchors, and URLs that are
// already one of this engine's own tracking redirects.
func skipTracking(target, baseURL string) bool {
	trimmed := strings.TrimSpace(html.UnescapeString(target))
	lower := strings.ToLower(trimmed)

	switch {
	case trimmed == "":
		return true
	case strings.HasPrefix(lower, "mailto:"):
		return true
	case strings.HasPrefix(lower, "tel:"):
		return true
	case strings.HasPrefix(trimmed, "#"):
		return true
	case strings.HasPrefix(trimmed, strings.TrimRight(baseURL, "/")+"/t/"):
		return true
	default:
		return false
	}
}

// InjectTracking rewrites html for the requested tracking instrumentation.
// Click rewriting wraps every <a href="..."> target (in document order,
// numbered from 0, skipping mailto:/tel:/#/already-tracked targets)
// behind the redirect URL; open injects a 1x1 pixel immediately before
// the closing </body> tag, or appends one if the document has no body
// tag at all.
func (c *LiquidCompiler) InjectTracking(rawHTML, token, baseURL string, opts domain.TrackingOptions) (string, error) {
	out := rawHTML

	if opts.Click {
		linkIndex := 0
		out = anchorHrefRe.ReplaceAllStringFunc(out, func(match string) string {
			parts := anchorHrefRe.FindStringSubmatch(match)
			prefix, target, suffix := parts[1], parts[2], parts[3]
			if skipTracking(target, baseURL) {
				return match
			}
			wrapped := clickURL(baseURL, token, linkIndex, html.UnescapeString(target))
			linkIndex++
			return prefix + wrapped + suffix
		})
	}

	if opts.Open {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, openPixelURL(baseURL, token))
		if idx := strings.LastIndex(strings.ToLower(out), "</body>"); idx >= 0 {
			out = out[:idx] + pixel + out[idx:]
		} else {
			out = out + pixel
		}
	}

	return out, nil
}
