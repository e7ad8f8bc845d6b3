package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSite(t *testing.T) {
	tests := []struct {
		in   string
		want SiteCode
	}{
		{"asi3", SiteASI3},
		{"ASI3", SiteASI3},
		{"  Asi3 ", SiteASI3},
		{"", SiteCode("")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSite(tt.in))
		})
	}
}

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Code: "NOT_FOUND", Message: "item not tracked"}
	assert.Equal(t, "item not tracked", err.Error())
}
