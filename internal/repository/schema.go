package repository

import "database/sql"

// createSchema creates the SQLite tables and indexes. The PostgreSQL schema
// is owned by the database package migrations and mirrors this one.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		sex TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clinical_assessments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		performed_by TEXT NOT NULL DEFAULT '',
		age INTEGER NOT NULL,
		ast REAL NOT NULL,
		alt REAL NOT NULL,
		platelets REAL NOT NULL,
		ast_uln REAL NOT NULL,
		bmi REAL NOT NULL,
		type2dm INTEGER NOT NULL,
		sex TEXT NOT NULL DEFAULT '',
		fib4 REAL NOT NULL,
		apri REAL NOT NULL,
		risk_tier TEXT NOT NULL,
		probability REAL NOT NULL,
		model_version TEXT NOT NULL,
		inference_mode TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clinical_patient_created ON clinical_assessments(patient_id, created_at);

	CREATE TABLE IF NOT EXISTS fibrosis_predictions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		scan_asset_id TEXT NOT NULL DEFAULT '',
		performed_by TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL,
		softmax_vector TEXT NOT NULL,
		top1_stage TEXT NOT NULL,
		top1_probability REAL NOT NULL,
		top2 TEXT NOT NULL,
		confidence_flag TEXT NOT NULL,
		escalation_flag TEXT NOT NULL,
		inference_mode TEXT NOT NULL,
		quality_metrics TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fibrosis_patient_created ON fibrosis_predictions(patient_id, created_at);

	CREATE TABLE IF NOT EXISTS stiffness_measurements (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		entered_by TEXT NOT NULL DEFAULT '',
		measured_kpa REAL NOT NULL,
		cap_dbm REAL,
		source TEXT NOT NULL,
		measured_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stiffness_patient_created ON stiffness_measurements(patient_id, created_at);

	CREATE TABLE IF NOT EXISTS stage3_assessments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		clinical_assessment_id TEXT REFERENCES clinical_assessments(id),
		fibrosis_prediction_id TEXT REFERENCES fibrosis_predictions(id),
		stiffness_measurement_id TEXT REFERENCES stiffness_measurements(id),
		performed_by TEXT NOT NULL DEFAULT '',
		composite_risk_score REAL NOT NULL,
		progression_risk_12m REAL NOT NULL,
		decomp_risk_12m REAL NOT NULL,
		risk_tier TEXT NOT NULL,
		model_version TEXT NOT NULL,
		inference_mode TEXT NOT NULL,
		feature_snapshot TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stage3_patient_created ON stage3_assessments(patient_id, created_at);

	CREATE TABLE IF NOT EXISTS stage3_explanations (
		id TEXT PRIMARY KEY,
		stage3_assessment_id TEXT NOT NULL UNIQUE REFERENCES stage3_assessments(id),
		local_feature_contrib TEXT NOT NULL,
		global_reference_version TEXT NOT NULL,
		trend_points TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_alerts (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		stage3_assessment_id TEXT REFERENCES stage3_assessments(id),
		created_by TEXT NOT NULL DEFAULT '',
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		score REAL NOT NULL,
		threshold REAL NOT NULL,
		status TEXT NOT NULL,
		resolved_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_patient_status ON risk_alerts(patient_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_one_open ON risk_alerts(patient_id, alert_type) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		event_type TEXT NOT NULL,
		event_payload TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timeline_patient_created ON timeline_events(patient_id, created_at);

	CREATE TABLE IF NOT EXISTS model_registry (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		artifact_uri TEXT NOT NULL DEFAULT '',
		metrics TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE(name, version)
	);
	`

	_, err := db.Exec(schema)
	return err
}
