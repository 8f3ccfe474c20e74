// Package push defines the provider-facing delivery port. The payload travels
// exclusively through the data channel as string key/value pairs; rendering is
// the device's job.
package push

import "context"

type Sender interface {
	Send(ctx context.Context, token string, data map[string]string) error
}
