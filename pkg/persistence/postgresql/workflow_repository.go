package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows with their nodes.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , entry_node_id
		  , created_at
		  , updated_at
		FROM workflows
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		var workflow models.Workflow

		err := rows.Scan(
			&workflow.ID,
			&workflow.Name,
			&workflow.Status,
			&workflow.EntryNodeID,
			&workflow.CreatedAt,
			&workflow.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadNodes(ctx, &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow nodes: %w", err)
		}

		workflows = append(workflows, &workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow with its nodes.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , entry_node_id
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1
	`

	var workflow models.Workflow

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Status,
		&workflow.EntryNodeID,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = r.loadNodes(ctx, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow nodes: %w", err)
	}

	return &workflow, nil
}

// Save upserts a workflow and replaces its node set.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	err := workflow.Validate()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	workflowQuery := `
		INSERT INTO workflows (id, name, status, entry_node_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			entry_node_id = EXCLUDED.entry_node_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.Name,
		workflow.Status,
		workflow.EntryNodeID,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	err = r.saveNodes(ctx, tx, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow nodes: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflow *models.Workflow) error {
	nodesQuery := `
		SELECT id, node_type, config
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, nodesQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var nodes []*models.Node

	for rows.Next() {
		var (
			node       models.Node
			configJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &configJSON)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		err = decodeNodeConfig(&node, configJSON)
		if err != nil {
			return fmt.Errorf("failed to decode node configuration: %w", err)
		}

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	workflow.Nodes = nodes

	return nil
}

// saveNodes saves nodes for a workflow inside the surrounding transaction.
func (r *WorkflowRepository) saveNodes(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for _, node := range workflow.Nodes {
		configJSON, err := encodeNodeConfig(node)
		if err != nil {
			return fmt.Errorf("failed to marshal node configuration: %w", err)
		}

		query := `
			INSERT INTO workflow_nodes (id, workflow_id, node_type, config)
			VALUES ($1, $2, $3, $4)
		`

		_, err = tx.ExecContext(ctx, query, node.ID, workflow.ID, node.Type, configJSON)
		if err != nil {
			return fmt.Errorf("failed to save node: %w", err)
		}
	}

	return nil
}

// encodeNodeConfig serializes the typed config matching the node's variant.
func encodeNodeConfig(node *models.Node) ([]byte, error) {
	switch node.Type {
	case models.NodeTypeEmail:
		return json.Marshal(node.Email)
	case models.NodeTypeDelay:
		return json.Marshal(node.Delay)
	case models.NodeTypeBranch:
		return json.Marshal(node.Branch)
	case models.NodeTypeEnd:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

// decodeNodeConfig populates the typed config pointer for the node's variant.
// Unknown stored types are a hard error, never a silent fallthrough.
func decodeNodeConfig(node *models.Node, configJSON []byte) error {
	switch node.Type {
	case models.NodeTypeEmail:
		node.Email = &models.EmailNodeConfig{}

		return json.Unmarshal(configJSON, node.Email)
	case models.NodeTypeDelay:
		node.Delay = &models.DelayNodeConfig{}

		return json.Unmarshal(configJSON, node.Delay)
	case models.NodeTypeBranch:
		node.Branch = &models.BranchNodeConfig{}

		return json.Unmarshal(configJSON, node.Branch)
	case models.NodeTypeEnd:
		return nil
	default:
		return fmt.Errorf("unknown node type %q", node.Type)
	}
}
