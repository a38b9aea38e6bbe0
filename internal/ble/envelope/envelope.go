// Package envelope implements the JSON envelope codec used on every
// characteristic of the configuration protocol. The wire format is
// schema-less: inbound payloads are usually JSON objects carrying a "status"
// discriminant, but free text is legal and is wrapped as {"value": <text>}
// rather than rejected.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Status tags sent by the peripheral.
const (
	StatusScanning     = "scanning"
	StatusScanResults  = "scan_results"
	StatusScanComplete = "scan_complete"

	StatusCredentialsReceived = "credentials_received"
	StatusWiFiConnecting      = "wifi_connecting"
	StatusWiFiConnected       = "wifi_connected"
	StatusWiFiDisconnected    = "wifi_disconnected"
	StatusError               = "error"

	StatusSuccess = "success"
)

// Commands understood by the peripheral.
const (
	CommandScanWiFi    = "scan_wifi"
	CommandConnectWiFi = "connect_wifi"
)

// ValueField is the key used to wrap payloads that are not JSON objects.
const ValueField = "value"

// Envelope is a decoded application message. The body is always a JSON
// object; payloads that were not objects are wrapped under ValueField.
type Envelope struct {
	raw  []byte
	body []byte
	text bool
}

// Decode turns characteristic bytes into an Envelope. It never fails:
// invalid JSON becomes {"value": "<text>"} with invalid UTF-8 sequences
// replaced by U+FFFD, and valid non-object JSON is wrapped as
// {"value": <json>}.
func Decode(data []byte) Envelope {
	raw := append([]byte(nil), data...)
	trimmed := strings.TrimSpace(string(data))

	if trimmed != "" && gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		if parsed.IsObject() {
			return Envelope{raw: raw, body: []byte(trimmed)}
		}
		body, err := sjson.SetRawBytes([]byte(`{}`), ValueField, []byte(trimmed))
		if err == nil {
			return Envelope{raw: raw, body: body}
		}
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	body, err := sjson.SetBytes([]byte(`{}`), ValueField, text)
	if err != nil {
		// sjson only fails on malformed paths; ValueField is constant.
		body = []byte(`{}`)
	}
	return Envelope{raw: raw, body: body, text: true}
}

// Encode serializes an outbound payload. Strings, byte slices and
// json.RawMessage pass through unchanged; everything else is marshalled
// as JSON.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, fmt.Errorf("envelope: nil payload")
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return data, nil
}

// Command builds an outbound {"command": name, ...} object. payload may be
// nil or any value that encodes to a JSON object; its fields are merged
// alongside the command key.
func Command(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("envelope: empty command name")
	}
	body := []byte(`{}`)
	if payload != nil {
		data, err := Encode(payload)
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
			return nil, fmt.Errorf("envelope: command payload must be a JSON object")
		}
		body = data
	}
	out, err := sjson.SetBytes(body, "command", name)
	if err != nil {
		return nil, fmt.Errorf("envelope: set command: %w", err)
	}
	return out, nil
}

// Raw returns the bytes the envelope was decoded from.
func (e Envelope) Raw() []byte { return e.raw }

// Body returns the normalized JSON object.
func (e Envelope) Body() []byte { return e.body }

// IsText reports whether the payload was not valid JSON.
func (e Envelope) IsText() bool { return e.text }

// Text returns the wrapped value for fallback envelopes.
func (e Envelope) Text() (string, bool) {
	if !e.text {
		return "", false
	}
	return e.Get(ValueField).String(), true
}

// Get looks up a field by gjson path.
func (e Envelope) Get(path string) gjson.Result {
	if len(e.body) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.body, path)
}

// Has reports whether the field exists.
func (e Envelope) Has(path string) bool {
	return e.Get(path).Exists()
}

// Status returns the "status" discriminant, or "" when absent or not a
// string.
func (e Envelope) Status() string {
	r := e.Get("status")
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// Command returns the "command" discriminant, or "".
func (e Envelope) Command() string {
	r := e.Get("command")
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// Fields decodes the body into a generic map.
func (e Envelope) Fields() map[string]any {
	out := make(map[string]any)
	if len(e.body) == 0 {
		return out
	}
	_ = json.Unmarshal(e.body, &out)
	return out
}

// Unmarshal decodes the body into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.body) == 0 {
		return fmt.Errorf("envelope: empty body")
	}
	if err := json.Unmarshal(e.body, v); err != nil {
		return fmt.Errorf("envelope: unmarshal: %w", err)
	}
	return nil
}

// MarshalJSON emits the normalized body so envelopes can be forwarded as-is.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.body) == 0 {
		return []byte(`{}`), nil
	}
	return e.body, nil
}

// String returns the body for logging.
func (e Envelope) String() string {
	return string(e.body)
}
