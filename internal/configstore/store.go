package configstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/plantform/plantnode/internal/infrastructure/database"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// Store persists the provisioning record in the key/value table.
//
// Commit protocol: Save writes the validity marker false, then each data
// key, then the marker true - each as its own autocommit statement. A crash
// mid-save therefore always leaves the marker false and Load reports
// ErrNotConfigured instead of returning half a record.
//
// Thread Safety:
//   - Methods are safe for concurrent use; SQLite serialises the writes.
type Store struct {
	db     *database.DB
	logger *logging.Logger
}

// NewStore creates a Store backed by db.
func NewStore(db *database.DB, logger *logging.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "configstore"),
	}
}

// Save atomically replaces the stored configuration with cfg.
//
// The previous record is invalidated first (marker false); readers that
// race a crash during Save observe "not configured", never a mixed record.
//
// Returns:
//   - error: ErrTooManyParams if len(cfg.Params) > MaxParams, or a
//     database error.
func (s *Store) Save(ctx context.Context, cfg DeviceConfig) error {
	if len(cfg.Params) > MaxParams {
		return fmt.Errorf("%w: %d > %d", ErrTooManyParams, len(cfg.Params), MaxParams)
	}

	// Invalidate before touching data keys.
	if err := s.put(ctx, keyOK, []byte{0}); err != nil {
		return fmt.Errorf("invalidating record: %w", err)
	}

	if err := s.put(ctx, keySSID, []byte(cfg.SSID)); err != nil {
		return fmt.Errorf("writing ssid: %w", err)
	}
	if err := s.put(ctx, keyPass, []byte(cfg.Password)); err != nil {
		return fmt.Errorf("writing password: %w", err)
	}

	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(cfg.Params)))
	if err := s.put(ctx, keyParamCount, count); err != nil {
		return fmt.Errorf("writing param count: %w", err)
	}

	blob := make([]byte, 4*len(cfg.Params))
	for i, p := range cfg.Params {
		binary.LittleEndian.PutUint32(blob[4*i:], math.Float32bits(p))
	}
	if err := s.put(ctx, keyParamBlob, blob); err != nil {
		return fmt.Errorf("writing param blob: %w", err)
	}

	// Marker last: the record becomes visible only once every key landed.
	if err := s.put(ctx, keyOK, []byte{1}); err != nil {
		return fmt.Errorf("committing record: %w", err)
	}

	s.logger.Info("configuration saved",
		"ssid", cfg.SSID,
		"params", len(cfg.Params))
	return nil
}

// Load reads the stored configuration.
//
// Returns:
//   - DeviceConfig: The stored record
//   - error: ErrNotConfigured if the marker is absent or false,
//     ErrCorruptRecord if the marker is true but the record is inconsistent.
func (s *Store) Load(ctx context.Context) (DeviceConfig, error) {
	ok, err := s.get(ctx, keyOK)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceConfig{}, ErrNotConfigured
	}
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("reading marker: %w", err)
	}
	if len(ok) != 1 || ok[0] != 1 {
		return DeviceConfig{}, ErrNotConfigured
	}

	ssid, err := s.get(ctx, keySSID)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("%w: ssid: %v", ErrCorruptRecord, err)
	}
	pass, err := s.get(ctx, keyPass)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("%w: password: %v", ErrCorruptRecord, err)
	}
	countRaw, err := s.get(ctx, keyParamCount)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("%w: param count: %v", ErrCorruptRecord, err)
	}
	if len(countRaw) != 4 {
		return DeviceConfig{}, fmt.Errorf("%w: param count is %d bytes", ErrCorruptRecord, len(countRaw))
	}
	count := binary.LittleEndian.Uint32(countRaw)
	if count > MaxParams {
		return DeviceConfig{}, fmt.Errorf("%w: param count %d exceeds %d", ErrCorruptRecord, count, MaxParams)
	}

	blob, err := s.get(ctx, keyParamBlob)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("%w: param blob: %v", ErrCorruptRecord, err)
	}
	if len(blob) != int(count)*4 {
		return DeviceConfig{}, fmt.Errorf("%w: blob is %d bytes for %d params", ErrCorruptRecord, len(blob), count)
	}

	params := make([]float32, count)
	for i := range params {
		params[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}

	return DeviceConfig{
		SSID:     string(ssid),
		Password: string(pass),
		Params:   params,
	}, nil
}

// IsConfigured reports whether a valid configuration record exists.
// Database errors read as "not configured"; the caller falls back to
// provisioning mode either way.
func (s *Store) IsConfigured(ctx context.Context) bool {
	ok, err := s.get(ctx, keyOK)
	if err != nil {
		return false
	}
	return len(ok) == 1 && ok[0] == 1
}

// Clear removes the configuration record entirely.
// The marker is dropped first so a crash mid-clear still reads as
// unconfigured.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.put(ctx, keyOK, []byte{0}); err != nil {
		return fmt.Errorf("invalidating record: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_store WHERE namespace = ?", Namespace)
	if err != nil {
		return fmt.Errorf("clearing namespace: %w", err)
	}
	s.logger.Info("configuration cleared")
	return nil
}

// SetUnconfigured flips the validity marker false without deleting the
// data keys. Cheaper than Clear when the record is about to be replaced.
func (s *Store) SetUnconfigured(ctx context.Context) error {
	if err := s.put(ctx, keyOK, []byte{0}); err != nil {
		return fmt.Errorf("invalidating record: %w", err)
	}
	return nil
}

// put upserts a single key as its own autocommit statement. Save depends
// on each key being durable in order; do not batch these into one
// transaction.
func (s *Store) put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		Namespace, key, value)
	return err
}

// get reads a single key, returning sql.ErrNoRows when absent.
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE namespace = ? AND key = ?",
		Namespace, key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}
