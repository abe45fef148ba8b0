// Package render renders step controls and Maily documents with Liquid.
package render

import (
	"log/slog"
	"os"
	"sync"

	"github.com/osteele/liquid"

	"github.com/rendis/herald/internal/document"
	"github.com/rendis/herald/pkg/schema"
)

// maxCachedTemplates bounds the parsed template cache; it is reset when full.
const maxCachedTemplates = 512

// Renderer renders templates against a runtime context.
// Thread-safe: parsed templates are cached and reused across goroutines.
type Renderer struct {
	engine *liquid.Engine
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*liquid.Template
}

// NewRenderer creates a renderer with the output filters registered.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	engine := liquid.NewEngine()
	engine.RegisterFilter(documentFilter, func(v any) string { return escapeDocumentValue(v) })
	engine.RegisterFilter(textFilter, func(v any) string { return escapeTextValue(v) })
	return &Renderer{
		engine: engine,
		logger: logger,
		cache:  make(map[string]*liquid.Template),
	}
}

// Render renders one control value. Strings holding a Maily document are
// rendered as documents and returned as *schema.Node; other strings are
// rendered as text. Any other value is returned unchanged.
func (r *Renderer) Render(body any, ctx schema.RuntimeContext) (any, error) {
	s, ok := body.(string)
	if !ok {
		return body, nil
	}
	if doc, ok := document.FromValue(s); ok {
		return r.RenderDocument(doc, ctx)
	}
	return r.RenderText(s, ctx)
}

// RenderText renders a plain Liquid string.
func (r *Renderer) RenderText(text string, ctx schema.RuntimeContext) (string, error) {
	return r.render(pipeOutputs(text, textFilter), ctx)
}

// RenderDocument wraps doc, renders it and trims trailing empty paragraphs.
// doc is not modified.
func (r *Renderer) RenderDocument(doc *schema.Node, ctx schema.RuntimeContext) (*schema.Node, error) {
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeParse, "document is nil")
	}
	src, err := document.Marshal(document.Wrap(doc))
	if err != nil {
		return nil, err
	}

	out, err := r.render(pipeOutputs(string(src), documentFilter), ctx)
	if err != nil {
		return nil, err
	}

	rendered, err := document.ParseString(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "rendered document is not valid JSON: %s", err.Error()).
			WithCause(err)
	}
	rendered.Content = trimTrailingEmpty(rendered.Content)
	return rendered, nil
}

func (r *Renderer) render(src string, ctx schema.RuntimeContext) (string, error) {
	tpl, err := r.getOrParse(src)
	if err != nil {
		return "", err
	}
	out, renderErr := tpl.RenderString(liquid.Bindings(ctx.Bindings()))
	if renderErr != nil {
		r.logger.Debug("liquid render failed", "error", renderErr.Error())
		return "", schema.NewErrorf(schema.ErrCodeEvaluation, "template render failed: %s", renderErr.Error()).
			WithCause(renderErr)
	}
	return out, nil
}

// getOrParse returns a cached template or parses and caches a new one.
func (r *Renderer) getOrParse(src string) (*liquid.Template, error) {
	r.mu.RLock()
	if tpl, ok := r.cache[src]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if tpl, ok := r.cache[src]; ok {
		return tpl, nil
	}

	tpl, parseErr := r.engine.ParseTemplate([]byte(src))
	if parseErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "template syntax error: %s", parseErr.Error()).
			WithCause(parseErr)
	}

	if len(r.cache) >= maxCachedTemplates {
		r.cache = make(map[string]*liquid.Template)
	}
	r.cache[src] = tpl
	return tpl, nil
}

// trimTrailingEmpty drops empty paragraphs from the end of content, stopping
// at the first node that is not one.
func trimTrailingEmpty(content []*schema.Node) []*schema.Node {
	end := len(content)
	for end > 0 && isEmptyParagraph(content[end-1]) {
		end--
	}
	return content[:end]
}

func isEmptyParagraph(n *schema.Node) bool {
	return n != nil && n.Type == schema.NodeParagraph && n.Text == "" && len(n.Content) == 0
}
