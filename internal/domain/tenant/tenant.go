// Package tenant provides the identifiers that scope all playback state.
package tenant

import (
	"bytes"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
)

// ID identifies an independent playback context (one chat-server guild).
type ID string

// String returns the identifier as a string.
func (id ID) String() string {
	return string(id)
}

// ChannelID identifies a chat or voice channel inside a tenant.
// Older state files wrote channel ids as integers, so decoding accepts
// both JSON numbers and JSON strings.
type ChannelID string

// String returns the identifier as a string.
func (c ChannelID) String() string {
	return string(c)
}

// UnmarshalJSON decodes a channel id from a JSON string, number or null.
func (c *ChannelID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "failed to decode channel id")
		}
		*c = ChannelID(s)
		return nil
	}

	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		return errors.Newf("invalid channel id: %s", string(data))
	}
	*c = ChannelID(data)
	return nil
}
