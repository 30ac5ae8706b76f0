package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		id   string
		want Kind
	}{
		{"628123456@c.us", KindPhone},
		{"628123456", KindPhone},
		{"120363042@g.us", KindGroup},
		{"status@broadcast", KindBroadcast},
		{"promo@newsletter", KindBroadcast},
		{"98765432100@lid", KindAlias},
		{"628123456@s.whatsapp.net", KindAlias},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.id))
		})
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "628123456@c.us", Normalize("628123456"))
	require.Equal(t, "628123456@c.us", Normalize("628123456@c.us"))
	require.Equal(t, "abc@lid", Normalize("abc@lid"))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"628123456@c.us", "628123456@c.us"},
		{"628123456:12@s.whatsapp.net", "628123456@c.us"},
		{"628123456", "628123456@c.us"},
		{"X1@lid", "1@c.us"},
		{"+62 812-3456@c.us", "628123456@c.us"},
		{"nodigits@lid", "nodigits@c.us"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestFallbackDerivedFromDigits(t *testing.T) {
	now := time.Now()
	c := Fallback("X1@lid", now)
	require.Equal(t, "1@c.us", c.ID)
	require.Equal(t, "1", c.Number)
	require.Empty(t, c.Name)
	require.Equal(t, now, c.ResolvedAt)
}
