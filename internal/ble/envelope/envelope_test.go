package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObject(t *testing.T) {
	env := Decode([]byte(`{"status":"wifi_connected","wifi_ssid":"home","rssi":-61}`))

	assert.False(t, env.IsText())
	assert.Equal(t, "wifi_connected", env.Status())
	assert.Equal(t, "home", env.Get("wifi_ssid").String())
	assert.Equal(t, int64(-61), env.Get("rssi").Int())
	assert.Empty(t, env.Command())
}

func TestDecodeFallbackForInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "free text", in: []byte("hello device"), want: "hello device"},
		{name: "truncated object", in: []byte(`{"status":"scan`), want: `{"status":"scan`},
		{name: "empty payload", in: []byte{}, want: ""},
		{name: "invalid utf8", in: []byte{'o', 'k', 0xff}, want: "ok\uFFFD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NotPanics(t, func() { env = Decode(tt.in) })

			assert.True(t, env.IsText())
			text, ok := env.Text()
			require.True(t, ok)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, tt.want, env.Fields()[ValueField])
			assert.Empty(t, env.Status())
		})
	}
}

func TestDecodeWrapsNonObjectJSON(t *testing.T) {
	env := Decode([]byte(`[1,2,3]`))

	assert.False(t, env.IsText())
	assert.True(t, env.Get(ValueField).IsArray())
	assert.Equal(t, int64(3), env.Get("value.#").Int())

	env = Decode([]byte(`42`))
	assert.Equal(t, int64(42), env.Get(ValueField).Int())
}

func TestDecodeNonStringStatusIsAbsent(t *testing.T) {
	env := Decode([]byte(`{"status":7}`))
	assert.Empty(t, env.Status())
	assert.True(t, env.Has("status"))
}

func TestDecodeKeepsRawBytes(t *testing.T) {
	in := []byte(` {"a":1} `)
	env := Decode(in)
	in[1] = 'X'

	assert.Equal(t, ` {"a":1} `, string(env.Raw()))
	assert.JSONEq(t, `{"a":1}`, string(env.Body()))
}

func TestEncode(t *testing.T) {
	got, err := Encode("plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(got))

	got, err = Encode([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	got, err = Encode(map[string]any{"deviceName": "kitchen", "ledEnabled": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceName":"kitchen","ledEnabled":true}`, string(got))

	_, err = Encode(nil)
	assert.Error(t, err)

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	got, err := Command(CommandScanWiFi, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"scan_wifi"}`, string(got))

	got, err = Command(CommandConnectWiFi, struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}{"home", "secret"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"connect_wifi","ssid":"home","password":"secret"}`, string(got))

	env := Decode(got)
	assert.Equal(t, CommandConnectWiFi, env.Command())

	_, err = Command("", nil)
	assert.Error(t, err)

	_, err = Command(CommandScanWiFi, "not an object")
	assert.Error(t, err)
}

func TestEnvelopeMarshalJSON(t *testing.T) {
	env := Decode([]byte("boot ok"))
	out, err := json.Marshal(struct {
		Data Envelope `json:"data"`
	}{env})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"value":"boot ok"}}`, string(out))
}

func TestUnmarshal(t *testing.T) {
	var v struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	env := Decode([]byte(`{"status":"success","message":"flashed"}`))
	require.NoError(t, env.Unmarshal(&v))
	assert.Equal(t, "success", v.Status)
	assert.Equal(t, "flashed", v.Message)
}
