package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherpack/aetherbot/internal/providers"
)

// Clock reports the current time, optionally in a named IANA timezone.
type Clock struct {
	// Now is replaceable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewClock() *Clock {
	return &Clock{Now: time.Now}
}

func (c *Clock) Name() string { return "current_time" }

func (c *Clock) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "current_time",
			Description: "Get the current date and time. Optionally pass an IANA timezone name such as Asia/Shanghai.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name, defaults to the server timezone",
					},
				},
			},
		},
	}
}

func (c *Clock) Execute(_ context.Context, _ Invocation, args map[string]any) (string, error) {
	now := c.Now()
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return now.Format("2006-01-02 15:04:05 MST (Monday)"), nil
}
