package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAttachment struct {
	MIMEType string `json:"mime_type" validate:"required"`
}

type testRequest struct {
	Message  string           `json:"message" validate:"required"`
	Tier     string           `json:"tier" validate:"omitempty,tier"`
	MaxDepth *int             `json:"max_depth" validate:"omitempty,gte=0,lte=10"`
	Images   []testAttachment `json:"images" validate:"omitempty,dive"`
}

func TestValidateStruct(t *testing.T) {
	depth := func(n int) *int { return &n }

	tests := []struct {
		name       string
		input      testRequest
		wantFields []string
	}{
		{
			name:  "valid request",
			input: testRequest{Message: "hi", Tier: "deep", MaxDepth: depth(2)},
		},
		{
			name:  "tier is case insensitive",
			input: testRequest{Message: "hi", Tier: "LITE"},
		},
		{
			name:       "missing message",
			input:      testRequest{Tier: "fast"},
			wantFields: []string{"message"},
		},
		{
			name:       "unknown tier",
			input:      testRequest{Message: "hi", Tier: "premium"},
			wantFields: []string{"tier"},
		},
		{
			name:       "depth out of range",
			input:      testRequest{Message: "hi", MaxDepth: depth(11)},
			wantFields: []string{"max_depth"},
		},
		{
			name:       "nested field uses json path",
			input:      testRequest{Message: "hi", Images: []testAttachment{{}}},
			wantFields: []string{"images[0].mime_type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)

			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			fields := GetValidationFields(err)
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestValidationMessages(t *testing.T) {
	err := ValidateStruct(&testRequest{Tier: "premium"})

	fields := GetValidationFields(err)
	assert.Equal(t, "message is required", fields["message"])
	assert.Equal(t, "tier must be one of: deep fast lite minimal", fields["tier"])
	assert.Equal(t, "Validation failed", err.Error())
}

func TestGetValidationFields_NonValidationError(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, IsValidationError(err))
	assert.Nil(t, GetValidationFields(err))
}
