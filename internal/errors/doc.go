// Package errors provides structured, actionable error messages for the
// elm-pages development server.
//
// Every failure the dev server reports to a terminal carries a code from a
// fixed registry. The code maps to a short message, a longer explanation and
// a documentation link:
//
//	err := errors.New("E100").
//	    WithSuggestion("Install Elm from https://guide.elm-lang.org/install/elm.html")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E100: Elm executable not found
//	//
//	//   The dev server compiles your application with the elm executable,
//	//   but it was not found on PATH.
//	//
//	//   Hint: Install Elm from https://guide.elm-lang.org/install/elm.html
//
// # Compiler reports
//
// The Elm compiler and elm-review both emit machine-readable JSON reports
// (--report=json). FormatReport turns such a report back into the colored
// text the tools would have printed themselves.
package errors
