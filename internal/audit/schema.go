package audit

// SchemaSQL defines the run and anomaly tables.
const SchemaSQL = `
    -- ==========================================================================
    -- INGEST_RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS started_at ON ingest_run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS finished_at ON ingest_run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS elapsed_ms ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS items ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS batches ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS batches_submitted ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS accepted ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS unsubmitted ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS not_sent ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS done ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS unknown ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS pending ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS duplicates ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS congestion_signals ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS transport_failures ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS partial_batches ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS poll_failures ON ingest_run TYPE int;
    DEFINE FIELD IF NOT EXISTS slow_jobs ON ingest_run TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS cancelled ON ingest_run TYPE bool;
    DEFINE FIELD IF NOT EXISTS errors ON ingest_run TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS ingest_run_finished ON ingest_run FIELDS finished_at;

    -- ==========================================================================
    -- INGEST_ANOMALY TABLE
    -- ==========================================================================
    -- run is a plain string so anomalies can be written before the run record exists
    DEFINE TABLE IF NOT EXISTS ingest_anomaly SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run ON ingest_anomaly TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON ingest_anomaly TYPE string;
    DEFINE FIELD IF NOT EXISTS batch ON ingest_anomaly TYPE int;
    DEFINE FIELD IF NOT EXISTS job_id ON ingest_anomaly TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS items ON ingest_anomaly TYPE int;
    DEFINE FIELD IF NOT EXISTS detail ON ingest_anomaly TYPE string;
    DEFINE FIELD IF NOT EXISTS at ON ingest_anomaly TYPE datetime;

    DEFINE INDEX IF NOT EXISTS ingest_anomaly_run ON ingest_anomaly FIELDS run;
`
