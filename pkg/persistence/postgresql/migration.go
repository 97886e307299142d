package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create processes table
			CREATE TABLE processes (
				id BIGSERIAL PRIMARY KEY,
				public_id UUID NOT NULL UNIQUE,
				type VARCHAR(64) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				state VARCHAR(32) NOT NULL CHECK (state IN ('INITIAL', 'PENDING', 'COMPLETE', 'FAILED', 'EXPIRED')),
				channel VARCHAR(32) NOT NULL,
				expiry TIMESTAMP WITH TIME ZONE NOT NULL,
				external_reference VARCHAR(255),
				integrator_reference VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- Create process_requests table
			CREATE TABLE process_requests (
				id BIGSERIAL PRIMARY KEY,
				process_id BIGINT NOT NULL REFERENCES processes(id),
				user_id UUID NOT NULL,
				type VARCHAR(64) NOT NULL,
				state VARCHAR(32) NOT NULL,
				channel VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- One live value per tag per request
			CREATE TABLE process_request_data (
				request_id BIGINT NOT NULL REFERENCES process_requests(id),
				name VARCHAR(64) NOT NULL,
				value TEXT NOT NULL,
				PRIMARY KEY (request_id, name)
			);

			CREATE TABLE process_stakeholders (
				id BIGSERIAL PRIMARY KEY,
				request_id BIGINT NOT NULL REFERENCES process_requests(id),
				stakeholder_id VARCHAR(255) NOT NULL,
				type VARCHAR(32) NOT NULL,
				UNIQUE (request_id, stakeholder_id, type)
			);

			-- Append-only transition history
			CREATE TABLE process_transitions (
				id BIGSERIAL PRIMARY KEY,
				process_id BIGINT NOT NULL REFERENCES processes(id),
				event VARCHAR(64) NOT NULL,
				user_id UUID NOT NULL,
				old_state VARCHAR(32) NOT NULL,
				new_state VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		2: `
			CREATE INDEX idx_processes_type_state ON processes(type, state);
			CREATE INDEX idx_processes_external_reference ON processes(external_reference);
			CREATE INDEX idx_processes_state_expiry ON processes(state, expiry);
			CREATE INDEX idx_processes_created_at ON processes(created_at);
			CREATE INDEX idx_process_requests_process_id ON process_requests(process_id, created_at);
			CREATE INDEX idx_process_stakeholders_lookup ON process_stakeholders(type, stakeholder_id);
			CREATE INDEX idx_process_transitions_process_id ON process_transitions(process_id, created_at);

			-- At most one pending process per type and external reference
			CREATE UNIQUE INDEX idx_processes_pending_reference
				ON processes(type, external_reference)
				WHERE state = 'PENDING' AND external_reference IS NOT NULL;
		`,
	}
}
