package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
)

// Key layout for the kv_entries namespace. See db/sqlite/migrations.
const (
	jobKeyPrefix     = "job:"
	resultKeyPrefix  = "job_result:"
	circuitKeyPrefix = "circuit:"
	alertKeyPrefix   = "alert:"
	statsKey         = "scheduler:stats"
)

// Store is the key/value abstraction over job records and auxiliary indices.
//
// The contract is deliberately narrow: get/put/delete/list-by-prefix with a
// per-key TTL. There are no transactions and no compare-and-swap; concurrent
// writers to the same key race with last-write-wins. Callers must treat a
// failed operation as "unknown state", not "operation did not happen".
type Store struct {
	db      *sql.DB
	timeNow func() time.Time // Injectable for testing
}

// NewStore creates a job store over an opened database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

// Put writes a value under key. A ttl of zero means the entry never expires.
func (s *Store) Put(key string, value []byte, ttl time.Duration) error {
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = s.timeNow().Add(ttl)
	}

	query := `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, value, expiresAt, s.timeNow()); err != nil {
		err = errors.Wrap(err, "failed to put value")
		err = errors.WithDetail(err, fmt.Sprintf("Key: %s", key))
		return err
	}
	return nil
}

// Get retrieves the value under key. Expired entries are treated as absent.
// Returns an error satisfying errors.ErrNotFound when the key is absent.
func (s *Store) Get(key string) ([]byte, error) {
	query := `
		SELECT value FROM kv_entries
		WHERE key = ?
		  AND (expires_at IS NULL OR expires_at > ?)
	`
	var value []byte
	err := s.db.QueryRow(query, key, s.timeNow()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("key not found: %s", key)
	}
	if err != nil {
		err = errors.Wrap(err, "failed to get value")
		err = errors.WithDetail(err, fmt.Sprintf("Key: %s", key))
		return nil, err
	}
	return value, nil
}

// Delete removes the entry under key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		err = errors.Wrap(err, "failed to delete key")
		err = errors.WithDetail(err, fmt.Sprintf("Key: %s", key))
		return err
	}
	return nil
}

// ListByPrefix returns all live keys under the given prefix, ordered by key.
// The listing is not point-in-time consistent with concurrent writers.
func (s *Store) ListByPrefix(prefix string) ([]string, error) {
	query := `
		SELECT key FROM kv_entries
		WHERE key LIKE ? ESCAPE '\'
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`
	rows, err := s.db.Query(query, escapeLike(prefix)+"%", s.timeNow())
	if err != nil {
		err = errors.Wrap(err, "failed to list keys")
		err = errors.WithDetail(err, fmt.Sprintf("Prefix: %s", prefix))
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating keys for prefix %s", prefix)
	}
	return keys, nil
}

// listValuesByPrefix returns all live values under the given prefix.
// Avoids the N+1 gets that ListByPrefix+Get would cost for bulk scans.
func (s *Store) listValuesByPrefix(prefix string) ([][]byte, error) {
	query := `
		SELECT value FROM kv_entries
		WHERE key LIKE ? ESCAPE '\'
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`
	rows, err := s.db.Query(query, escapeLike(prefix)+"%", s.timeNow())
	if err != nil {
		err = errors.Wrap(err, "failed to list values")
		err = errors.WithDetail(err, fmt.Sprintf("Prefix: %s", prefix))
		return nil, err
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, errors.Wrap(err, "failed to scan value")
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating values for prefix %s", prefix)
	}
	return values, nil
}

// PurgeExpired removes entries whose TTL has elapsed and returns the count
func (s *Store) PurgeExpired() (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.timeNow(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge expired entries")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// escapeLike escapes LIKE metacharacters so prefixes match literally
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// --- Typed helpers over the raw namespace ---

// PutJob persists a job record. A ttl of zero keeps the record until a
// later write (terminal transitions set the retention TTL).
func (s *Store) PutJob(job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal job %s", job.ID)
	}
	if err := s.Put(jobKeyPrefix+job.ID, data, ttl); err != nil {
		err = errors.Wrap(err, "failed to persist job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Type: %s", job.Type))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	data, err := s.Get(jobKeyPrefix + id)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal job %s", id)
	}
	return &job, nil
}

// DeleteJob removes a job record and its result blob
func (s *Store) DeleteJob(id string) error {
	if err := s.Delete(jobKeyPrefix + id); err != nil {
		return err
	}
	return s.Delete(resultKeyPrefix + id)
}

// ListJobs scans every job record. The scan is eventually consistent:
// records written or expired mid-scan may or may not appear.
func (s *Store) ListJobs() ([]*Job, error) {
	values, err := s.listValuesByPrefix(jobKeyPrefix)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(values))
	for _, data := range values {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			// Skip corrupt records rather than failing the whole scan
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// PutResult stores a job's result blob separately from the job record,
// so large results outlive the job record's retention window.
func (s *Store) PutResult(jobID string, result json.RawMessage, ttl time.Duration) error {
	if err := s.Put(resultKeyPrefix+jobID, result, ttl); err != nil {
		err = errors.Wrap(err, "failed to persist job result")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
		return err
	}
	return nil
}

// GetResult retrieves a job's stored result blob
func (s *Store) GetResult(jobID string) (json.RawMessage, error) {
	data, err := s.Get(resultKeyPrefix + jobID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// PutBreakerStatus persists circuit breaker state for a service key
func (s *Store) PutBreakerStatus(serviceKey string, status *BreakerStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal breaker status for %s", serviceKey)
	}
	return s.Put(circuitKeyPrefix+serviceKey, data, ttl)
}

// GetBreakerStatus retrieves persisted circuit breaker state
func (s *Store) GetBreakerStatus(serviceKey string) (*BreakerStatus, error) {
	data, err := s.Get(circuitKeyPrefix + serviceKey)
	if err != nil {
		return nil, err
	}
	var status BreakerStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal breaker status for %s", serviceKey)
	}
	return &status, nil
}

// ListBreakerStatuses returns all persisted breaker states keyed by service
func (s *Store) ListBreakerStatuses() (map[string]*BreakerStatus, error) {
	keys, err := s.ListByPrefix(circuitKeyPrefix)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]*BreakerStatus, len(keys))
	for _, key := range keys {
		serviceKey := key[len(circuitKeyPrefix):]
		status, err := s.GetBreakerStatus(serviceKey)
		if err != nil {
			if errors.IsNotFoundError(err) {
				continue // Expired between list and get
			}
			return nil, err
		}
		statuses[serviceKey] = status
	}
	return statuses, nil
}

// PutStatsSnapshot persists the aggregate stats snapshot
func (s *Store) PutStatsSnapshot(stats *Stats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "failed to marshal stats snapshot")
	}
	return s.Put(statsKey, data, ttl)
}

// GetStatsSnapshot retrieves the last persisted stats snapshot
func (s *Store) GetStatsSnapshot() (*Stats, error) {
	data, err := s.Get(statsKey)
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal stats snapshot")
	}
	return &stats, nil
}

// PutAlert records an alert entry for external monitoring to surface
func (s *Store) PutAlert(alert *Alert, ttl time.Duration) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert")
	}
	key := fmt.Sprintf("%s%d:%s", alertKeyPrefix, alert.CreatedAt.UnixNano(), alert.ID)
	return s.Put(key, data, ttl)
}

// ListAlerts returns all live alert records, oldest first
func (s *Store) ListAlerts() ([]*Alert, error) {
	values, err := s.listValuesByPrefix(alertKeyPrefix)
	if err != nil {
		return nil, err
	}

	alerts := make([]*Alert, 0, len(values))
	for _, data := range values {
		var alert Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			continue
		}
		alerts = append(alerts, &alert)
	}
	return alerts, nil
}
