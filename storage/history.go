package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wyrmhole/models"
)

// AddSentFile appends one sent-file record. ID and SendTime are filled in when empty.
func (s *Store) AddSentFile(record models.SentRecord) error {
	// ".bashrc" is stored with an empty name and extension "bashrc".
	if record.FileName == "" && record.FileExtension == "" {
		return errors.New("file_name or file_extension is required")
	}
	if record.FileSize < 0 {
		return errors.New("file_size must be >= 0")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	sendTime := record.SendTime.UnixMilli()
	if record.SendTime.IsZero() {
		sendTime = nowUnixMilli()
	}

	paths := record.FilePaths
	if paths == nil {
		paths = []string{}
	}
	encodedPaths, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("encode file paths: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sent_files (
			id,
			file_name,
			file_size,
			file_extension,
			file_paths,
			send_time,
			connection_code
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.FileName,
		record.FileSize,
		record.FileExtension,
		string(encodedPaths),
		sendTime,
		record.ConnectionCode,
	)
	if err != nil {
		return fmt.Errorf("insert sent file %q: %w", record.ID, err)
	}

	return nil
}

// AddReceivedFile appends one received-file record. ID and DownloadTime are filled in when empty.
func (s *Store) AddReceivedFile(record models.ReceivedRecord) error {
	if record.FileName == "" && record.FileExtension == "" {
		return errors.New("file_name or file_extension is required")
	}
	if record.DownloadURL == "" {
		return errors.New("download_url is required")
	}
	if record.FileSize < 0 {
		return errors.New("file_size must be >= 0")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ConnectionType == "" {
		record.ConnectionType = string(models.TransitUnknown)
	}
	downloadTime := record.DownloadTime.UnixMilli()
	if record.DownloadTime.IsZero() {
		downloadTime = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO received_files (
			id,
			file_name,
			file_size,
			file_extension,
			download_url,
			download_time,
			connection_type,
			peer_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.FileName,
		record.FileSize,
		record.FileExtension,
		record.DownloadURL,
		downloadTime,
		record.ConnectionType,
		record.PeerAddress,
	)
	if err != nil {
		return fmt.Errorf("insert received file %q: %w", record.ID, err)
	}

	return nil
}

// GetSentFile fetches one sent record by id.
func (s *Store) GetSentFile(id string) (*models.SentRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, file_name, file_size, file_extension, file_paths, send_time, connection_code
		FROM sent_files
		WHERE id = ?`,
		id,
	)

	record, err := scanSentFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sent file %q: %w", id, err)
	}
	return record, nil
}

// GetReceivedFile fetches one received record by id.
func (s *Store) GetReceivedFile(id string) (*models.ReceivedRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, file_name, file_size, file_extension, download_url, download_time, connection_type, peer_address
		FROM received_files
		WHERE id = ?`,
		id,
	)

	record, err := scanReceivedFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get received file %q: %w", id, err)
	}
	return record, nil
}

// ListSentFiles returns sent records oldest first.
func (s *Store) ListSentFiles(opts ListOptions) ([]models.SentRecord, error) {
	if err := validateListOptions(opts); err != nil {
		return nil, err
	}
	limit, offset := limitClause(opts)

	rows, err := s.db.Query(
		`SELECT id, file_name, file_size, file_extension, file_paths, send_time, connection_code
		FROM sent_files
		ORDER BY send_time ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list sent files: %w", err)
	}
	defer rows.Close()

	records := make([]models.SentRecord, 0)
	for rows.Next() {
		record, err := scanSentFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sent file: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent files: %w", err)
	}
	return records, nil
}

// ListReceivedFiles returns received records oldest first.
func (s *Store) ListReceivedFiles(opts ListOptions) ([]models.ReceivedRecord, error) {
	if err := validateListOptions(opts); err != nil {
		return nil, err
	}
	limit, offset := limitClause(opts)

	rows, err := s.db.Query(
		`SELECT id, file_name, file_size, file_extension, download_url, download_time, connection_type, peer_address
		FROM received_files
		ORDER BY download_time ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list received files: %w", err)
	}
	defer rows.Close()

	records := make([]models.ReceivedRecord, 0)
	for rows.Next() {
		record, err := scanReceivedFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan received file: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate received files: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSentFile(row scanner) (*models.SentRecord, error) {
	var (
		record   models.SentRecord
		rawPaths string
		sendTime int64
	)
	if err := row.Scan(
		&record.ID,
		&record.FileName,
		&record.FileSize,
		&record.FileExtension,
		&rawPaths,
		&sendTime,
		&record.ConnectionCode,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawPaths), &record.FilePaths); err != nil {
		return nil, fmt.Errorf("decode file paths for %q: %w", record.ID, err)
	}
	record.SendTime = time.UnixMilli(sendTime)
	return &record, nil
}

func scanReceivedFile(row scanner) (*models.ReceivedRecord, error) {
	var (
		record       models.ReceivedRecord
		downloadTime int64
	)
	if err := row.Scan(
		&record.ID,
		&record.FileName,
		&record.FileSize,
		&record.FileExtension,
		&record.DownloadURL,
		&downloadTime,
		&record.ConnectionType,
		&record.PeerAddress,
	); err != nil {
		return nil, err
	}
	record.DownloadTime = time.UnixMilli(downloadTime)
	return &record, nil
}
