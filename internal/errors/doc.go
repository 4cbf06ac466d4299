// Package errors provides structured, actionable error messages for the
// vsock command.
//
// Every error carries a category and, when registered, a code that maps to
// a short message, a longer explanation and a documentation URL. Callers
// add detail and a hint for the user:
//
//	err := errors.New("E101").
//	    WithDetail("open vsock.toml: permission denied").
//	    WithSuggestion("Check the file permissions")
//
//	errors.PrintError(os.Stderr, err)
//	// Output:
//	// ERROR E101: Config file unreadable
//	//
//	//   open vsock.toml: permission denied
//	//
//	//   Hint: Check the file permissions
//
// # Error Categories
//
//   - config: configuration file and flag errors
//   - transport: dial, listen and WebSocket failures
//   - protocol: schema mismatches and packet encoding
//   - cli: command usage errors
package errors
