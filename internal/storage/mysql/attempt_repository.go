package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "CoSign-Chain/internal/errors"
)

// AttemptRecord 记录一次提交尝试的结果，每次重试都会新增一条。
type AttemptRecord struct {
	JobID     string `json:"job_id"`
	Attempt   int    `json:"attempt"`
	Action    string `json:"action"`
	Sender    string `json:"sender"`
	Hash      string `json:"hash,omitempty"`
	State     string `json:"state"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	CreatedAt int64  `json:"created_at"`
}

// AttemptRepository 抽象提交历史的持久化接口。
type AttemptRepository interface {
	Save(ctx context.Context, record AttemptRecord) error
	ListByJob(ctx context.Context, jobID string) ([]AttemptRecord, error)
	Close() error
}

const maxCachedAttempts = 4096

// FileAttemptRepository 以 JSON Lines 追加写入本地文件，适合单机部署。
type FileAttemptRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []AttemptRecord
}

// NewFileAttemptRepository 在 dataDir 下创建 attempts.log。
func NewFileAttemptRepository(dataDir string) (*FileAttemptRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &FileAttemptRepository{dataFile: filepath.Join(dataDir, "attempts.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录一次尝试。
func (f *FileAttemptRepository) Save(_ context.Context, record AttemptRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化提交记录失败")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开提交日志失败")
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提交日志失败")
	}

	f.records = append(f.records, record)
	if len(f.records) > maxCachedAttempts {
		f.records = f.records[len(f.records)-maxCachedAttempts:]
	}
	return nil
}

// ListByJob 按尝试顺序返回任务的提交历史。
func (f *FileAttemptRepository) ListByJob(_ context.Context, jobID string) ([]AttemptRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []AttemptRecord
	for _, record := range f.records {
		if record.JobID == jobID {
			out = append(out, record)
		}
	}
	return out, nil
}

// Close 对文件仓库无需操作。
func (f *FileAttemptRepository) Close() error { return nil }

func (f *FileAttemptRepository) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提交日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record AttemptRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		f.records = append(f.records, record)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交日志失败")
	}
	if len(f.records) > maxCachedAttempts {
		f.records = f.records[len(f.records)-maxCachedAttempts:]
	}
	return nil
}

// SQLAttemptRepository 将提交历史写入 submission_attempts 表。
type SQLAttemptRepository struct {
	db *sql.DB
}

// NewSQLAttemptRepository 基于已迁移的连接池创建仓库。
func NewSQLAttemptRepository(db *sql.DB) *SQLAttemptRepository {
	return &SQLAttemptRepository{db: db}
}

// Save 写入一条提交记录。
func (s *SQLAttemptRepository) Save(ctx context.Context, record AttemptRecord) error {
	const stmt = `INSERT INTO submission_attempts
        (job_id, attempt, action, sender, hash, state, error_code, message, elapsed_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.JobID,
		record.Attempt,
		record.Action,
		record.Sender,
		record.Hash,
		record.State,
		record.ErrorCode,
		record.Message,
		record.ElapsedMs,
		record.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提交记录失败")
	}
	return nil
}

// ListByJob 查询任务的全部提交记录。
func (s *SQLAttemptRepository) ListByJob(ctx context.Context, jobID string) ([]AttemptRecord, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, attempt, action, sender, hash, state, error_code, message, elapsed_ms, created_at
        FROM submission_attempts WHERE job_id = ? ORDER BY attempt ASC, id ASC`, jobID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交记录失败")
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		if err := rows.Scan(&r.JobID, &r.Attempt, &r.Action, &r.Sender, &r.Hash, &r.State, &r.ErrorCode, &r.Message, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交记录失败")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提交记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLAttemptRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ AttemptRepository = (*FileAttemptRepository)(nil)
	_ AttemptRepository = (*SQLAttemptRepository)(nil)
)
