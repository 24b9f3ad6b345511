// Package dev provides the development server and live reload.
//
// This package implements:
//   - File watching for Elm sources, stylesheets and elm.json
//   - Paired client and server compiles with coalesced rebuilds
//   - Live reload over Server-Sent Events and WebSocket
//   - Page rendering through the render worker pool
//   - Error pages and JSON error payloads for failed builds
//
// # Architecture
//
// The development server consists of several components:
//
//   - Watcher: reports changes to subscribed paths (fsnotify)
//   - Coordinator: turns changes into compile cycles and reload tokens
//   - Pipeline: owns the current BuildPair that requests wait on
//   - Compiler, Linter: run elm make and elm-review
//   - Broadcaster: fans reload tokens out to connected browsers
//   - Router: serves /elm.js, /stream and page navigations
//
// # Usage
//
//	srv, err := dev.NewServer(dev.ServerOptions{
//	    ProjectDir: ".",
//	    Config:     cfg,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// # Reload Protocol
//
// Browsers connect to /stream (SSE) or /_elm-pages/reload (WebSocket) and
// receive one of three tokens:
//
//	style.css     a stylesheet changed
//	elm.js        route modules were regenerated
//	content.json  the application or its data changed
package dev
