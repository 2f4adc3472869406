// Package memory provides an in-memory persistence implementation with the
// same conditional-update semantics as the SQL backend. It backs local
// development (memory:// database URLs) and the engine's tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driprun/driprun/pkg/models"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/google/uuid"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
// Every conditional update holds the lock for its whole read-compare-write,
// so claim and CAS behave like single atomic statements.
type Persistence struct {
	mu         sync.Mutex
	workflows  map[string]*models.Workflow
	contacts   map[string]*models.Contact
	templates  map[string]*models.Template
	runs       map[string]*models.Run
	queueItems map[string]*models.QueueItem
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.Workflow),
		contacts:   make(map[string]*models.Contact),
		templates:  make(map[string]*models.Template),
		runs:       make(map[string]*models.Run),
		queueItems: make(map[string]*models.QueueItem),
	}
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))
	for _, workflow := range p.workflows {
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	err := workflow.Validate()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	p.workflows[workflow.ID] = workflow

	return nil
}

func (p *Persistence) ContactByID(_ context.Context, id string) (*models.Contact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	contact, ok := p.contacts[id]
	if !ok {
		return nil, persistence.ErrContactNotFound
	}

	return contact, nil
}

func (p *Persistence) SaveContact(_ context.Context, contact *models.Contact) error {
	err := contact.Validate()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}

	if contact.SubscribedAt.IsZero() {
		contact.SubscribedAt = time.Now().UTC()
	}

	p.contacts[contact.ID] = contact

	return nil
}

func (p *Persistence) TemplateByID(_ context.Context, id string) (*models.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	template, ok := p.templates[id]
	if !ok {
		return nil, persistence.ErrTemplateNotFound
	}

	return template, nil
}

func (p *Persistence) SaveTemplate(_ context.Context, template *models.Template) error {
	err := template.Validate()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	if template.ID == "" {
		template.ID = uuid.New().String()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now
	p.templates[template.ID] = template

	return nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.ErrRunNotFound
	}

	copied := *run

	return &copied, nil
}

func (p *Persistence) SaveRun(_ context.Context, run *models.Run) error {
	err := run.Validate()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	copied := *run
	p.runs[run.ID] = &copied

	return nil
}

func (p *Persistence) EligibleRuns(_ context.Context) ([]*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runs := make([]*models.Run, 0)

	for _, run := range p.runs {
		if run.Status == models.RunStatusActive || run.Status == models.RunStatusWaiting {
			copied := *run
			runs = append(runs, &copied)
		}
	}

	return runs, nil
}

func (p *Persistence) UpdateRunFrom(_ context.Context, run *models.Run, prevNodeID string, prevStatus models.RunStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.runs[run.ID]
	if !ok {
		return persistence.ErrRunNotFound
	}

	if stored.CurrentNodeID != prevNodeID || stored.Status != prevStatus {
		return persistence.ErrStaleRun
	}

	copied := *run
	copied.UpdatedAt = time.Now().UTC()
	p.runs[run.ID] = &copied

	return nil
}

func (p *Persistence) QueueItemByID(_ context.Context, id string) (*models.QueueItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.queueItems[id]
	if !ok {
		return nil, persistence.ErrQueueItemNotFound
	}

	copied := *item

	return &copied, nil
}

func (p *Persistence) EnqueueItem(_ context.Context, item *models.QueueItem) error {
	err := item.Validate()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	// An item already stored under this ID came from an earlier attempt at
	// the same transition; the insert is a no-op, first write wins.
	if _, exists := p.queueItems[item.ID]; exists {
		return nil
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}

	item.UpdatedAt = now

	if item.Status == "" {
		item.Status = models.QueueItemStatusQueued
	}

	copied := *item
	p.queueItems[item.ID] = &copied

	return nil
}

func (p *Persistence) EligibleQueueItems(_ context.Context, maxAttempts int) ([]*models.QueueItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := make([]*models.QueueItem, 0)

	for _, item := range p.queueItems {
		claimable := item.Status == models.QueueItemStatusQueued || item.Status == models.QueueItemStatusPending
		if claimable && item.Attempts < maxAttempts {
			copied := *item
			items = append(items, &copied)
		}
	}

	return items, nil
}

// ClaimQueueItem compare-and-swaps on the (status, updated_at) snapshot the
// caller read, matching the SQL backend's conditional claim.
func (p *Persistence) ClaimQueueItem(_ context.Context, snapshot *models.QueueItem) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.queueItems[snapshot.ID]
	if !ok {
		return false, persistence.ErrQueueItemNotFound
	}

	if item.Status != models.QueueItemStatusQueued && item.Status != models.QueueItemStatusPending {
		return false, nil
	}

	if item.Status != snapshot.Status || !item.UpdatedAt.Equal(snapshot.UpdatedAt) {
		return false, nil
	}

	item.Status = models.QueueItemStatusPending
	item.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (p *Persistence) MarkQueueItemSent(_ context.Context, id, providerMessageID string, attempts int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.queueItems[id]
	if !ok {
		return persistence.ErrQueueItemNotFound
	}

	if item.Status != models.QueueItemStatusPending {
		return nil
	}

	item.Status = models.QueueItemStatusSent
	item.ProviderMessageID = &providerMessageID
	item.Attempts = attempts
	item.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) ReleaseQueueItem(_ context.Context, id string, attempts int, lastError string, failed bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.queueItems[id]
	if !ok {
		return persistence.ErrQueueItemNotFound
	}

	if item.Status != models.QueueItemStatusPending {
		return nil
	}

	if failed {
		item.Status = models.QueueItemStatusFailed
	} else {
		item.Status = models.QueueItemStatusQueued
	}

	item.Attempts = attempts
	item.LastError = &lastError
	item.UpdatedAt = time.Now().UTC()

	return nil
}
