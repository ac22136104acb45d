// Package dispatch validates tool calls, routes them to sessions, and
// maps engine results and failures onto the wire.
package dispatch

// Tool names form a closed set. The registry can disable members of the
// set but nothing outside it ever executes.
const (
	ToolNavigate   = "browser_navigate"
	ToolSnapshot   = "browser_snapshot"
	ToolClick      = "browser_click"
	ToolType       = "browser_type"
	ToolScreenshot = "browser_take_screenshot"
)

// Decl describes one tool for clients.
type Decl struct {
	Name        string
	Description string
	Schema      map[string]any
}

func sessionProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Session id from the control API. Omit to use the shared default session.",
	}
}

func refProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Element ref from the most recent browser_snapshot (e.g. \"e12\").",
	}
}

func elementProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Human-readable element description used for logging.",
	}
}

// Declarations returns every tool in the closed set, in a stable order.
func Declarations() []Decl {
	return []Decl{
		{
			Name:        ToolNavigate,
			Description: "Navigate the session's page to a URL and wait for it to load.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "Absolute http(s) URL to open.",
					},
					"session": sessionProp(),
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        ToolSnapshot,
			Description: "Capture an accessibility snapshot of the current page. Interactive elements carry refs usable with browser_click and browser_type until the next snapshot.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session": sessionProp(),
				},
			},
		},
		{
			Name:        ToolClick,
			Description: "Click an element identified by a ref from the latest snapshot.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ref":     refProp(),
					"element": elementProp(),
					"session": sessionProp(),
				},
				"required": []string{"ref"},
			},
		},
		{
			Name:        ToolType,
			Description: "Type text into an element identified by a ref, replacing its current content. Set submit to press Enter afterwards.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ref":     refProp(),
					"element": elementProp(),
					"text": map[string]any{
						"type":        "string",
						"description": "Text to type.",
					},
					"submit": map[string]any{
						"type":        "boolean",
						"description": "Press Enter after typing.",
					},
					"session": sessionProp(),
				},
				"required": []string{"ref", "text"},
			},
		},
		{
			Name:        ToolScreenshot,
			Description: "Take a screenshot of the current page.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"raw": map[string]any{
						"type":        "boolean",
						"description": "Return a lossless PNG instead of compressed JPEG.",
					},
					"session": sessionProp(),
				},
			},
		},
	}
}
