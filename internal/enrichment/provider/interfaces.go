package provider

import (
	"context"
)

// Provider looks up a phone number and returns the raw decoded response.
type Provider interface {
	Lookup(ctx context.Context, number string) (map[string]interface{}, error)
	Name() string
}
