package template_test

import (
	"testing"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContact() *models.Contact {
	return &models.Contact{
		ID:        "c-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Attributes: map[string]any{
			"plan": "pro",
			"vip":  true,
		},
	}
}

func TestRenderForContact(t *testing.T) {
	t.Parallel()

	run := &models.Run{ID: "r-1", WorkflowID: "wf-1"}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "contact fields",
			input: "Hi {{.contact.first_name}} {{.contact.last_name}}!",
			want:  "Hi Ada Lovelace!",
		},
		{
			name:  "contact attributes",
			input: "Your plan: {{.contact.attributes.plan}}",
			want:  "Your plan: pro",
		},
		{
			name:  "run namespace",
			input: "workflow={{.run.workflow_id}}",
			want:  "workflow=wf-1",
		},
		{
			name:  "upper helper",
			input: "{{upper .contact.first_name}}",
			want:  "ADA",
		},
		{
			name:    "missing key is an error",
			input:   "{{.contact.middle_name}}",
			wantErr: true,
		},
		{
			name:    "malformed template",
			input:   "{{.contact.first_name",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := template.RenderForContact(tt.input, testContact(), run)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	t.Parallel()

	run := &models.Run{ID: "r-1", WorkflowID: "wf-1"}

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{
			name:      "boolean attribute",
			condition: "{{.contact.attributes.vip}}",
			want:      true,
		},
		{
			name:      "equality expression",
			condition: `{{eq .contact.attributes.plan "pro"}}`,
			want:      true,
		},
		{
			name:      "false expression",
			condition: `{{eq .contact.attributes.plan "free"}}`,
			want:      false,
		},
		{
			name:      "non boolean output",
			condition: "{{.contact.first_name}}",
			wantErr:   true,
		},
		{
			name:      "empty output",
			condition: `{{if false}}true{{end}}`,
			wantErr:   true,
		},
		{
			name:      "missing attribute",
			condition: "{{.contact.attributes.churn_risk}}",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := template.EvaluateCondition(tt.condition, testContact(), run)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
