// Package template renders message templates and branch conditions against
// contact and run data.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/driprun/driprun/pkg/models"
)

// contactData flattens a contact and run into the namespace templates see:
// {{.contact.first_name}}, {{.contact.attributes.plan}}, {{.run.workflow_id}}.
func contactData(contact *models.Contact, run *models.Run) map[string]any {
	data := map[string]any{
		"contact": map[string]any{
			"id":         contact.ID,
			"email":      contact.Email,
			"first_name": contact.FirstName,
			"last_name":  contact.LastName,
			"attributes": contact.Attributes,
		},
	}

	if run != nil {
		data["run"] = map[string]any{
			"id":          run.ID,
			"workflow_id": run.WorkflowID,
			"entered_at":  run.EnteredNodeAt.UTC().Format(time.RFC3339),
		}
	}

	return data
}

// RenderForContact renders a template body against a contact and its run.
func RenderForContact(input string, contact *models.Contact, run *models.Run) (string, error) {
	return Render(input, contactData(contact, run))
}

// Render parses and executes a template against arbitrary data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("message").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// EvaluateCondition renders a condition template for a contact and coerces
// the result to a boolean. Empty output and unparsable output are errors so
// the caller can decide the fallback branch.
func EvaluateCondition(condition string, contact *models.Contact, run *models.Run) (bool, error) {
	rendered, err := RenderForContact(condition, contact, run)
	if err != nil {
		return false, err
	}

	result := strings.TrimSpace(rendered)
	if result == "" {
		return false, fmt.Errorf("condition '%s' rendered empty", condition)
	}

	parsed, err := strconv.ParseBool(result)
	if err != nil {
		return false, fmt.Errorf("condition '%s' did not evaluate to a boolean (got %q): %w", condition, result, err)
	}

	return parsed, nil
}
