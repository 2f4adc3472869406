package postgresql

// migrations returns the versioned schema for the engine's tables. Runs and
// queue items carry the status columns the eligibility queries and
// conditional updates key on.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'draft',
				entry_node_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS workflow_nodes (
				id VARCHAR(255) NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				node_type VARCHAR(50) NOT NULL,
				config JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE IF NOT EXISTS templates (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS contacts (
				id UUID PRIMARY KEY,
				email VARCHAR(255) NOT NULL,
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				attributes JSONB,
				subscribed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS runs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				contact_id UUID NOT NULL REFERENCES contacts(id),
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'active',
				entered_node_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

			CREATE TABLE IF NOT EXISTS queue_items (
				id UUID PRIMARY KEY,
				run_id UUID REFERENCES runs(id),
				recipient VARCHAR(255) NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'queued',
				attempts INTEGER NOT NULL DEFAULT 0,
				provider_message_id VARCHAR(255),
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
		`,
	}
}
