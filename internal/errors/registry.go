package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://vsock.dev/docs/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E199)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The configuration file given with --config does not exist.",
		DocURL:   docBase + "E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Config file unreadable",
		Detail:   "The configuration file exists but could not be read.",
		DocURL:   docBase + "E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Config file invalid",
		Detail:   "The configuration file could not be parsed.",
		DocURL:   docBase + "E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Unsupported config format",
		Detail:   "Configuration files must end in .json or .toml.",
		DocURL:   docBase + "E103",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A configuration value is out of range.",
		DocURL:   docBase + "E104",
	},

	// ============================================
	// Transport Errors (E200-E299)
	// ============================================

	"E200": {
		Category: CategoryTransport,
		Message:  "Listen failed",
		Detail:   "The server could not bind its listen address.",
		DocURL:   docBase + "E200",
	},
	"E201": {
		Category: CategoryTransport,
		Message:  "Dial failed",
		Detail:   "The WebSocket handshake with the server did not complete.",
		DocURL:   docBase + "E201",
	},
	"E202": {
		Category: CategoryTransport,
		Message:  "Connection lost",
		Detail:   "The connection closed unexpectedly.",
		DocURL:   docBase + "E202",
	},
	"E203": {
		Category: CategoryTransport,
		Message:  "Send failed",
		Detail:   "A packet could not be written to the connection.",
		DocURL:   docBase + "E203",
	},

	// ============================================
	// Protocol Errors (E300-E399)
	// ============================================

	"E300": {
		Category: CategoryProtocol,
		Message:  "Schema mismatch",
		Detail:   "Client and server define their packets differently, so packet identities would not line up.",
		DocURL:   docBase + "E300",
	},
	"E301": {
		Category: CategoryProtocol,
		Message:  "Packet encoding failed",
		Detail:   "The packet payload could not be encoded as JSON.",
		DocURL:   docBase + "E301",
	},

	// ============================================
	// CLI Errors (E400-E499)
	// ============================================

	"E400": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		DocURL:   docBase + "E400",
	},
	"E401": {
		Category: CategoryCLI,
		Message:  "Invalid URL",
		Detail:   "The URL must use the ws or wss scheme.",
		DocURL:   docBase + "E401",
	},
}

// GetTemplate returns the template for a code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
