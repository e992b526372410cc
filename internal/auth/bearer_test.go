package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer sk-123", "sk-123", true},
		{"missing", "", "", false},
		{"basic", "Basic abc", "", false},
		{"empty token", "Bearer   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(r)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestCheckMasterKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.True(t, CheckMasterKey(r, ""))
	assert.False(t, CheckMasterKey(r, "sk-master"))

	r.Header.Set("Authorization", "Bearer sk-master")
	assert.True(t, CheckMasterKey(r, "sk-master"))
	assert.False(t, CheckMasterKey(r, "sk-other"))
}
