package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	at := time.Date(2024, time.March, 7, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		seq    Sequence
		value  int64
		expect string
	}{
		{"plain", Sequence{Padding: 0}, 42, "42"},
		{"padded", Sequence{Padding: 5}, 42, "00042"},
		{"value wider than padding", Sequence{Padding: 2}, 12345, "12345"},
		{"prefix with year", Sequence{Prefix: "INV/{year}/", Padding: 4}, 7, "INV/2024/0007"},
		{"all placeholders", Sequence{Prefix: "{y}{month}{day}-", Suffix: "/{year}", Padding: 3}, 1, "240307-001/2024"},
		{"unknown placeholder kept", Sequence{Prefix: "{week}-"}, 3, "{week}-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Format(&tt.seq, tt.value, at))
		})
	}
}
