package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wagate/internal/media"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "nul dropped", in: "a\x00b\x00", want: "ab"},
		{name: "invalid utf8 replaced", in: "caf\xe9!", want: "caf\uFFFD!"},
		{name: "emoji kept", in: "ok 👍", want: "ok 👍"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, cleanText(tc.in))
		})
	}
}

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	t.Run("clean document untouched", func(t *testing.T) {
		t.Parallel()
		raw := []byte(`{"id":"wamid.1","n":12345678901234567890}`)
		assert.Equal(t, raw, cleanJSON(raw))
	})

	t.Run("nul escapes removed", func(t *testing.T) {
		t.Parallel()
		out := cleanJSON([]byte(`{"text":{"body":"hi\u0000there"},"k\u0000":[1,"\u0000"]}`))
		require.NotNil(t, out)
		assert.NotContains(t, string(out), `\u0000`)

		var v map[string]any
		require.NoError(t, json.Unmarshal(out, &v))
		assert.Equal(t, "hithere", v["text"].(map[string]any)["body"])
		assert.Equal(t, []any{float64(1), ""}, v["k"])
	})

	t.Run("invalid utf8 replaced", func(t *testing.T) {
		t.Parallel()
		out := cleanJSON([]byte("{\"body\":\"caf\xe9\"}"))
		require.NotNil(t, out)
		assert.JSONEq(t, "{\"body\":\"caf\uFFFD\"}", string(out))
	})

	t.Run("large numbers survive", func(t *testing.T) {
		t.Parallel()
		out := cleanJSON([]byte(`{"ts":12345678901234567890,"s":"\u0000"}`))
		assert.Contains(t, string(out), "12345678901234567890")
	})

	t.Run("unparseable becomes nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, cleanJSON([]byte(`{"a":"\u0000`)))
	})

	t.Run("object columns never nil", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []byte("{}"), cleanJSONObject([]byte("{\"a\":\"\xff")))
	})
}

func TestMarshalMedia_StripsNUL(t *testing.T) {
	t.Parallel()
	out, err := marshalMedia(&media.MessageMedia{Status: media.StatusFailed, DownloadError: "boom\x00"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), `\u0000`)
	assert.Contains(t, string(out), `"download_error":"boom"`)
}