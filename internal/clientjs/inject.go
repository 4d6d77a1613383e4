// Package clientjs ships the browser rendition of the SPA redirect protocol
// and the tooling around it: injecting it into exported HTML documents and
// running it headless for conformance checks.
package clientjs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/jikku/portfolio/internal/spa"
)

// Script is the browser implementation of the protocol
//
//go:embed redirect.js
var Script string

// Role selects which handler an injected document runs
type Role string

const (
	// RoleNotFound is for the host's generic not-found document
	RoleNotFound Role = "not-found"
	// RoleRoot is for the application root document
	RoleRoot Role = "root"
)

// Options configures the injected script
type Options struct {
	SlashPolicy spa.SlashPolicy
	// LiveReload adds a websocket client that reloads the page on deploy
	LiveReload bool
}

type scriptConfig struct {
	SlashPolicy string `json:"slashPolicy"`
}

const liveReloadSnippet = `<script data-livereload>(function(){` +
	`var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/__livereload");` +
	`ws.onmessage=function(e){if(e.data==="reload"){location.reload();}};` +
	`})();</script>`

// Inject places the protocol script at the top of <head>. Any script injected
// earlier is replaced, so running it twice is harmless.
func Inject(html []byte, role Role, opts Options) ([]byte, error) {
	var call string
	switch role {
	case RoleNotFound:
		call = "spaNotFound();"
	case RoleRoot:
		call = "spaRedirect();"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	policy := opts.SlashPolicy
	if policy == "" {
		policy = spa.SlashDirectoryIndex
	}
	cfg, err := json.Marshal(scriptConfig{SlashPolicy: string(policy)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode script config: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script[data-spa-redirect], script[data-livereload]").Remove()

	snippet := fmt.Sprintf("<script data-spa-redirect=%q>window.__spaRedirectConfig=%s;\n%s\n%s</script>",
		role, cfg, Script, call)
	head := doc.Find("head").First()
	head.PrependHtml(snippet)
	if opts.LiveReload {
		head.AppendHtml(liveReloadSnippet)
	}

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return []byte(out), nil
}

// InjectReplaceState adds a script that rewrites the address bar to target
// without navigating. The server-side redirect handler uses it to strip the
// handoff marker.
func InjectReplaceState(html []byte, target string) ([]byte, error) {
	encoded, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to encode target: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script[data-spa-replace-state]").Remove()
	doc.Find("head").First().PrependHtml(
		fmt.Sprintf(`<script data-spa-replace-state>history.replaceState(null,"",%s);</script>`, encoded))

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return []byte(out), nil
}
