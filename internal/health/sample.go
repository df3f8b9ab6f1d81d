package health

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// StatusOK is the status value a healthy worker reports.
const StatusOK = "ok"

var ErrMalformedBody = errors.New("malformed health response")

// Sample is the decoded body of one health response.
type Sample struct {
	Status          string `json:"status"`
	PluginConnected bool   `json:"plugin_connected"`
	PendingCommands int    `json:"pending_commands"`
	ServerVersion   string `json:"server_version,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`

	HasServerVersion   bool `json:"-"`
	HasProtocolVersion bool `json:"-"`
}

// ParseSample decodes a health body. "status" is required and must be a
// string. Optional fields may be missing, and serverVersion/protocolVersion
// may be null; a recognized field present with any other JSON type makes the
// whole body malformed. Unknown fields are ignored.
func ParseSample(body []byte) (Sample, error) {
	if !gjson.ValidBytes(body) {
		return Sample{}, ErrMalformedBody
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Sample{}, errors.Join(ErrMalformedBody, errors.New("body is not an object"))
	}
	status := doc.Get("status")
	if status.Type != gjson.String {
		return Sample{}, errors.Join(ErrMalformedBody, errors.New("missing status"))
	}

	s := Sample{Status: status.String()}
	if v := doc.Get("pluginConnected"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False {
			return Sample{}, wrongType("pluginConnected")
		}
		s.PluginConnected = v.Bool()
	}
	n, _, err := counter(doc.Get("pendingCommands"), "pendingCommands", false)
	if err != nil {
		return Sample{}, err
	}
	s.PendingCommands = n

	if v := doc.Get("serverVersion"); v.Exists() && v.Type != gjson.Null {
		if v.Type != gjson.String {
			return Sample{}, wrongType("serverVersion")
		}
		s.ServerVersion, s.HasServerVersion = v.String(), true
	}
	if s.ProtocolVersion, s.HasProtocolVersion, err = counter(doc.Get("protocolVersion"), "protocolVersion", true); err != nil {
		return Sample{}, err
	}
	return s, nil
}

func wrongType(field string) error {
	return fmt.Errorf("%w: %s has the wrong type", ErrMalformedBody, field)
}

// counter reads an unsigned 32-bit integer field. When nullable, null counts
// as absent.
func counter(v gjson.Result, field string, nullable bool) (int, bool, error) {
	if !v.Exists() || (nullable && v.Type == gjson.Null) {
		return 0, false, nil
	}
	// integer literals only: 1.0 and 1e3 are rejected like any other float
	if v.Type != gjson.Number || strings.ContainsAny(v.Raw, ".eE-") || v.Num > math.MaxUint32 {
		return 0, false, wrongType(field)
	}
	return int(v.Int()), true, nil
}

// Classify maps the latest sample to a State. A nil sample means the poll
// produced no usable response.
func Classify(s *Sample) State {
	if s == nil || s.Status != StatusOK {
		return Stopped
	}
	if s.PluginConnected {
		return Running
	}
	return Waiting
}
