package engine_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/driprun/driprun/pkg/engine"
	"github.com/driprun/driprun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executorContact() *models.Contact {
	return &models.Contact{
		ID:        "c-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		Attributes: map[string]any{
			"vip": true,
		},
	}
}

func TestExecutor_Email(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())
	now := time.Now().UTC()

	run := &models.Run{
		ID:            "r-1",
		WorkflowID:    "wf-1",
		ContactID:     "c-1",
		CurrentNodeID: "welcome",
		Status:        models.RunStatusActive,
		EnteredNodeAt: now,
	}

	node := &models.Node{
		ID:    "welcome",
		Type:  models.NodeTypeEmail,
		Email: &models.EmailNodeConfig{TemplateID: "tpl-1", Next: "wait"},
	}

	content := &models.Template{
		ID:      "tpl-1",
		Name:    "Welcome",
		Subject: "Welcome, {{.contact.first_name}}!",
		Body:    "Hi {{.contact.first_name}}",
	}

	t.Run("renders and advances", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(node, run, executorContact(), content, now)
		require.NoError(t, err)

		assert.Equal(t, engine.DecisionAdvance, decision.Kind)
		assert.Equal(t, "wait", decision.NextNodeID)

		require.NotNil(t, decision.Item)
		assert.Equal(t, "ada@example.com", decision.Item.Recipient)
		assert.Equal(t, "Welcome, Ada!", decision.Item.Subject)
		assert.Equal(t, "Hi Ada", decision.Item.Body)
		assert.Equal(t, models.QueueItemStatusQueued, decision.Item.Status)
		require.NotNil(t, decision.Item.RunID)
		assert.Equal(t, "r-1", *decision.Item.RunID)
	})

	t.Run("node subject overrides the template subject", func(t *testing.T) {
		t.Parallel()

		override := &models.Node{
			ID:    "welcome",
			Type:  models.NodeTypeEmail,
			Email: &models.EmailNodeConfig{TemplateID: "tpl-1", Subject: "{{upper .contact.first_name}}, look", Next: "wait"},
		}

		decision, err := executor.Execute(override, run, executorContact(), content, now)
		require.NoError(t, err)
		assert.Equal(t, "ADA, look", decision.Item.Subject)
	})

	t.Run("rendering failure is a node error", func(t *testing.T) {
		t.Parallel()

		broken := &models.Template{
			ID:      "tpl-1",
			Subject: "Welcome",
			Body:    "{{.contact.middle_name}}",
		}

		_, err := executor.Execute(node, run, executorContact(), broken, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "render")
	})

	t.Run("missing template is a node error", func(t *testing.T) {
		t.Parallel()

		_, err := executor.Execute(node, run, executorContact(), nil, now)
		require.Error(t, err)
	})
}

func TestExecutor_EmailItemIDStablePerTransition(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())
	entered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	node := &models.Node{
		ID:    "welcome",
		Type:  models.NodeTypeEmail,
		Email: &models.EmailNodeConfig{TemplateID: "tpl-1", Next: "wait"},
	}

	content := &models.Template{
		ID:      "tpl-1",
		Name:    "Welcome",
		Subject: "Welcome",
		Body:    "Hi",
	}

	run := &models.Run{
		ID:            "r-1",
		WorkflowID:    "wf-1",
		ContactID:     "c-1",
		CurrentNodeID: "welcome",
		Status:        models.RunStatusActive,
		EnteredNodeAt: entered,
	}

	first, err := executor.Execute(node, run, executorContact(), content, entered)
	require.NoError(t, err)

	// Executing the same transition again yields the same item ID, so a
	// repeated enqueue collapses onto one queue row.
	second, err := executor.Execute(node, run, executorContact(), content, entered.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.Item.ID, second.Item.ID)

	// A later visit to the node is a different transition.
	revisit := *run
	revisit.EnteredNodeAt = entered.Add(time.Hour)

	third, err := executor.Execute(node, &revisit, executorContact(), content, entered.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.Item.ID, third.Item.ID)

	// Another run on the same node gets its own item.
	other := *run
	other.ID = "r-2"

	fourth, err := executor.Execute(node, &other, executorContact(), content, entered)
	require.NoError(t, err)
	assert.NotEqual(t, first.Item.ID, fourth.Item.ID)
}

func TestExecutor_Delay(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())
	entered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	node := &models.Node{
		ID:    "wait",
		Type:  models.NodeTypeDelay,
		Delay: &models.DelayNodeConfig{Duration: models.Duration(time.Hour), Next: "done"},
	}

	run := &models.Run{
		ID:            "r-1",
		CurrentNodeID: "wait",
		Status:        models.RunStatusActive,
		EnteredNodeAt: entered,
	}

	t.Run("waits while the delay has not elapsed", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(node, run, nil, nil, entered.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, engine.DecisionWait, decision.Kind)
	})

	t.Run("advances exactly at the boundary", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(node, run, nil, nil, entered.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, engine.DecisionAdvance, decision.Kind)
		assert.Equal(t, "done", decision.NextNodeID)
	})

	t.Run("advances after the delay elapsed", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(node, run, nil, nil, entered.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, engine.DecisionAdvance, decision.Kind)
	})
}

func TestExecutor_Branch(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())
	now := time.Now().UTC()

	run := &models.Run{ID: "r-1", CurrentNodeID: "check", Status: models.RunStatusActive}

	branchNode := func(condition string) *models.Node {
		return &models.Node{
			ID:     "check",
			Type:   models.NodeTypeBranch,
			Branch: &models.BranchNodeConfig{Condition: condition, OnTrue: "vip-track", OnFalse: "standard-track"},
		}
	}

	t.Run("true condition takes the true branch", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(branchNode("{{.contact.attributes.vip}}"), run, executorContact(), nil, now)
		require.NoError(t, err)
		assert.Equal(t, engine.DecisionAdvance, decision.Kind)
		assert.Equal(t, "vip-track", decision.NextNodeID)
	})

	t.Run("false condition takes the false branch", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(branchNode(`{{eq .contact.first_name "Bob"}}`), run, executorContact(), nil, now)
		require.NoError(t, err)
		assert.Equal(t, "standard-track", decision.NextNodeID)
	})

	t.Run("unevaluable condition falls back to the false branch", func(t *testing.T) {
		t.Parallel()

		decision, err := executor.Execute(branchNode("{{.contact.attributes.missing}}"), run, executorContact(), nil, now)
		require.NoError(t, err)
		assert.Equal(t, "standard-track", decision.NextNodeID)
	})
}

func TestExecutor_End(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())

	decision, err := executor.Execute(&models.Node{ID: "done", Type: models.NodeTypeEnd}, &models.Run{ID: "r-1"}, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionTerminate, decision.Kind)
}

func TestExecutor_UnknownType(t *testing.T) {
	t.Parallel()

	executor := engine.NewExecutor(slog.Default())

	_, err := executor.Execute(&models.Node{ID: "x", Type: "webhook"}, &models.Run{ID: "r-1"}, nil, nil, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}
