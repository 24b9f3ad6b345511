// Package render runs page renders on a fixed pool of isolated workers.
//
// A Pool owns a small number of Workers. Each Worker is a goroutine that
// renders one request at a time with an Engine; the default Engine loads the
// compiled server application into a fresh QuickJS VM per request, so no
// state survives between renders.
//
// Dispatch hands a request to an idle worker, or queues it (FIFO) until one
// is released. While rendering, a worker posts messages back:
//
//	done   the render result; the request resolves
//	watch  extra glob patterns the page depends on
//	error  a structured failure payload; the request rejects
//
// Watch patterns are forwarded to the pool's WatchFunc before any later
// message from the same render is read, so a page's dependencies are
// observed before its result is returned.
package render
