package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and their step graph
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(200) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				trigger_type VARCHAR(50),
				trigger_config JSONB,
				location_id VARCHAR(100),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
			CREATE INDEX idx_workflows_location_id ON workflows(location_id);

			CREATE TABLE workflow_steps (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_type VARCHAR(20) NOT NULL CHECK (step_type IN ('trigger', 'action', 'condition')),
				action_type VARCHAR(50),
				config JSONB,
				label VARCHAR(200),
				position INT NOT NULL DEFAULT 0,
				next_step_id UUID REFERENCES workflow_steps(id) ON DELETE SET NULL,
				true_branch_step_id UUID REFERENCES workflow_steps(id) ON DELETE SET NULL,
				false_branch_step_id UUID REFERENCES workflow_steps(id) ON DELETE SET NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);

			-- Execution trace
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				status VARCHAR(20) NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'succeeded', 'failed')),
				trigger_data JSONB,
				context_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				steps_completed INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);

			CREATE TABLE step_executions (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id UUID REFERENCES workflow_steps(id) ON DELETE SET NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'running', 'succeeded', 'failed', 'skipped')),
				input_data JSONB,
				output_data JSONB,
				error_message TEXT,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_step_executions_execution_id ON step_executions(execution_id);
			CREATE INDEX idx_step_executions_step_id ON step_executions(step_id);
		`,
		2: `
			-- Durable dispatch queue
			CREATE TABLE dispatches (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'claimed', 'succeeded', 'failed', 'cancelled')),
				trigger_data JSONB,
				available_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				attempts INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL DEFAULT 3,
				error_message TEXT,
				execution_id UUID REFERENCES executions(id) ON DELETE SET NULL,
				worker_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_dispatches_workflow_id ON dispatches(workflow_id);
			CREATE INDEX idx_dispatches_claim ON dispatches(status, available_at);

			-- Append-only structured log sink
			CREATE TABLE workflow_logs (
				id UUID PRIMARY KEY,
				workflow_id UUID REFERENCES workflows(id) ON DELETE SET NULL,
				execution_id UUID REFERENCES executions(id) ON DELETE SET NULL,
				level VARCHAR(10) NOT NULL DEFAULT 'info',
				event VARCHAR(100) NOT NULL,
				message TEXT,
				data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_logs_workflow_id ON workflow_logs(workflow_id);
			CREATE INDEX idx_workflow_logs_execution_id ON workflow_logs(execution_id);
		`,
	}
}
