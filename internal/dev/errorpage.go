package dev

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"html/template"
	"regexp"

	"github.com/angusjf/elm-pages/internal/errors"
	"github.com/angusjf/elm-pages/internal/render"
)

var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*m")

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { margin: 0; background: #1e1e1e; color: #e6e6e6; font-family: monospace; }
h1 { margin: 0; padding: 16px 24px; background: #b71c1c; font-size: 16px; }
pre { padding: 24px; white-space: pre-wrap; line-height: 1.4; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<pre>{{.Body}}</pre>
<script id="` + LiveReloadMarker + `">{{.Script}}</script>
</body>
</html>
`))

// errorHTML renders the page shown for a failed navigation. The page
// reloads itself on the next live-reload token.
func errorHTML(title string, err error) []byte {
	var buf bytes.Buffer
	_ = errorPage.Execute(&buf, struct {
		Title  string
		Body   string
		Script template.JS
	}{
		Title:  title,
		Body:   ansiPattern.ReplaceAllString(describeCompileError(err), ""),
		Script: template.JS(LiveReloadScript),
	})
	return buf.Bytes()
}

// describeCompileError returns terminal text for a build or render failure.
func describeCompileError(err error) string {
	var pe *errors.PagesError
	if errors.Is(err, "E120") && stderrors.As(err, &pe) {
		return pe.Format()
	}
	var ce *CompileError
	if stderrors.As(err, &ce) {
		return payloadText(ce.Payload)
	}
	var te *render.TaskError
	if stderrors.As(err, &te) {
		return payloadText(te.Payload)
	}
	if stderrors.As(err, &pe) {
		return pe.Format()
	}
	return err.Error()
}

// errorPayload returns the JSON body sent to data requests for err.
func errorPayload(err error) []byte {
	var ce *CompileError
	if stderrors.As(err, &ce) {
		return ce.Payload
	}
	var te *render.TaskError
	if stderrors.As(err, &te) {
		return te.Payload
	}
	var pe *errors.PagesError
	if stderrors.As(err, &pe) {
		return []byte(pe.FormatJSON())
	}
	payload, _ := json.Marshal(err.Error())
	return payload
}

// payloadText formats a JSON error payload for display. JSON strings are
// unquoted.
func payloadText(payload []byte) string {
	var s string
	if json.Unmarshal(payload, &s) == nil {
		return s
	}
	return errors.FormatReport(payload)
}
