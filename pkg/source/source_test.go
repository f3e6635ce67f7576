package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeWaitMultiplier(t *testing.T) {
	tests := []struct {
		name string
		size string
		want float64
	}{
		{name: "empty", size: "", want: 1},
		{name: "unparseable", size: "unknown", want: 1},
		{name: "kilobytes", size: "512KB", want: 1},
		{name: "small megabytes", size: "0.8MB", want: 1},
		{name: "exactly one megabyte", size: "1MB", want: 1},
		{name: "large document", size: "20MB", want: 3},
		{name: "fractional megabytes", size: "12.5MB", want: 2.25},
		{name: "with whitespace", size: "30 MB", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SizeWaitMultiplier(tt.size), 1e-9)
		})
	}
}
