package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memohai/wagate/internal/message"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current message.Status
		next    message.Status
		want    bool
	}{
		{"", message.StatusQueued, true},
		{"", message.StatusRead, true},
		{"", "bogus", false},
		{"", message.StatusReceived, false},
		{message.StatusQueued, message.StatusSent, true},
		{message.StatusSent, message.StatusDelivered, true},
		{message.StatusDelivered, message.StatusRead, true},
		{message.StatusSent, message.StatusRead, true},
		{message.StatusQueued, message.StatusFailed, true},
		{message.StatusSent, message.StatusFailed, true},
		{message.StatusSent, message.StatusSent, false},
		{message.StatusRead, message.StatusRead, false},
		{message.StatusDelivered, message.StatusSent, false},
		{message.StatusRead, message.StatusDelivered, false},
		{message.StatusRead, message.StatusSent, false},
		{message.StatusSent, message.StatusQueued, false},
		{message.StatusDelivered, message.StatusFailed, false},
		{message.StatusRead, message.StatusFailed, false},
		{message.StatusFailed, message.StatusRead, false},
		{message.StatusFailed, message.StatusSent, false},
		{message.StatusQueued, message.StatusReceived, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.current)+"->"+string(tc.next), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, CanTransition(tc.current, tc.next))
		})
	}
}
