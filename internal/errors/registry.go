package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Startup Errors (E100-E109)
	// ============================================

	"E100": {
		Category: CategoryStartup,
		Message:  "Elm executable not found",
		Detail:   "The dev server compiles your application with the elm executable, but it was not found on PATH.",
		DocURL:   "https://elm-pages.com/docs/getting-started",
	},
	"E101": {
		Category: CategoryStartup,
		Message:  "elm-review executable not found",
		Detail:   "The dev server runs elm-review to explain route module errors, but it was not found on PATH.",
		DocURL:   "https://elm-pages.com/docs/getting-started",
	},

	// ============================================
	// Config Errors (E110-E119)
	// ============================================

	"E110": {
		Category: CategoryConfig,
		Message:  "elm.json not found",
		Detail:   "The dev server must be started from the root of an Elm project.",
		DocURL:   "https://elm-pages.com/docs/file-structure",
	},
	"E111": {
		Category: CategoryConfig,
		Message:  "Invalid elm.json",
		Detail:   "elm.json could not be parsed or has no source-directories.",
		DocURL:   "https://elm-pages.com/docs/file-structure",
	},
	"E112": {
		Category: CategoryConfig,
		Message:  "Invalid dev server configuration",
		Detail:   "A dev server setting from flags, environment or config file is invalid.",
	},

	// ============================================
	// Compile Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryCompile,
		Message:  "Code generation failed",
		Detail:   "The generated route modules could not be written. Both builds were skipped.",
	},
	"E130": {
		Category: CategoryCompile,
		Message:  "Elm compilation failed",
		Detail:   "The Elm compiler reported errors. Fix them and save to rebuild.",
	},
	"E131": {
		Category: CategoryCompile,
		Message:  "elm-review failed",
		Detail:   "elm-review could not produce a report for the route modules.",
	},

	// ============================================
	// Render Errors (E140-E149)
	// ============================================

	"E140": {
		Category: CategoryRender,
		Message:  "Page render failed",
		Detail:   "The render worker reported an error for this request. Other requests are unaffected.",
	},
	"E141": {
		Category: CategoryRender,
		Message:  "Render worker unavailable",
		Detail:   "The render worker could not load the compiled application.",
	},

	// ============================================
	// Server Errors (E150-E169)
	// ============================================

	"E150": {
		Category: CategoryStartup,
		Message:  "Could not provision HTTPS certificate",
		Detail:   "A self-signed certificate for localhost could not be created or loaded.",
	},
	"E151": {
		Category: CategoryStartup,
		Message:  "Dev server failed to start",
		Detail:   "The HTTP listener could not be started.",
	},
	"E152": {
		Category: CategoryStartup,
		Message:  "Could not create project directories",
		Detail:   "The dev server keeps generated files and caches inside the project. Check that the project directory is writable.",
	},
	"E160": {
		Category: CategoryWatch,
		Message:  "File watcher error",
		Detail:   "A watched path could not be observed. Changes to it will not trigger rebuilds.",
	},
}
