package warehouse

// Schema of the catalog snapshot file. One row per dataset, per access
// grant and per table; descriptors are stored as their REST JSON.

// CreateDatasetsTableSQL creates the datasets table.
const CreateDatasetsTableSQL = `
CREATE TABLE IF NOT EXISTS datasets (
    project_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    labels_json TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (project_id, dataset_id)
)`

// CreateAccessEntriesTableSQL creates the dataset access list table.
const CreateAccessEntriesTableSQL = `
CREATE TABLE IF NOT EXISTS access_entries (
    project_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    role TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    PRIMARY KEY (project_id, dataset_id, position),
    FOREIGN KEY (project_id, dataset_id) REFERENCES datasets(project_id, dataset_id)
)`

// CreateTablesTableSQL creates the table descriptor table.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    project_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    table_id TEXT NOT NULL,
    descriptor_json TEXT NOT NULL,
    PRIMARY KEY (project_id, dataset_id, table_id),
    FOREIGN KEY (project_id, dataset_id) REFERENCES datasets(project_id, dataset_id)
)`

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	return []string{
		CreateDatasetsTableSQL,
		CreateAccessEntriesTableSQL,
		CreateTablesTableSQL,
	}
}
