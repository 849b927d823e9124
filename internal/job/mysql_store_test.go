package job

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"CoSign-Chain/internal/storage/mysql/mysqltest"
	"CoSign-Chain/internal/transfer"
)

var jobColumnNames = []string{"id", "action", "sender", "request", "metadata", "status", "attempts", "max_retries",
	"last_error", "error_code", "result_hash", "result_state", "result_vm_status", "result_fee_payer", "created_at", "updated_at"}

func jobRow(t *testing.T, id string, status Status, attempts int, hash, state string) []driver.Value {
	t.Helper()
	req := transferRequest(10)
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return []driver.Value{
		id, string(req.Action), req.Sender.Hex(), string(raw), `{"origin":"api"}`, string(status),
		int64(attempts), int64(3), "", "", hash, state, "", "", int64(100), int64(200),
	}
}

func TestMySQLStoreCreateMapsDuplicate(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 1}),
		mysqltest.ExecErr("", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	require.NoError(t, err)

	job := &Job{ID: "j1", Request: transferRequest(10), Status: StatusPending, MaxRetries: 3}
	require.NoError(t, store.Create(context.Background(), job))
	args := drv.Args(0)
	require.Equal(t, "j1", args[0])
	require.Equal(t, "transfer", args[1])
	require.Equal(t, testAddr(1).Hex(), args[2])

	err = store.Create(context.Background(), &Job{ID: "j1", Request: transferRequest(10)})
	require.True(t, errors.Is(err, ErrJobConflict))
}

func TestMySQLStoreClaim(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 1}),
		mysqltest.Query("", mysqltest.Rows{Columns: jobColumnNames, Values: [][]driver.Value{
			jobRow(t, "j1", StatusRunning, 1, "", ""),
		}}),
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query("", mysqltest.Rows{Columns: jobColumnNames, Values: [][]driver.Value{
			jobRow(t, "j2", StatusFailed, 1, "0xdead", ""),
		}}),
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query("", mysqltest.Rows{Columns: jobColumnNames}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	job, err := store.Claim(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Nil(t, job.Result)
	require.Equal(t, "api", job.Metadata["origin"])
	require.Equal(t, uint64(10), job.Request.Transfers[0].Amount)

	failed, err := store.Claim(ctx, "j2")
	require.True(t, errors.Is(err, ErrJobExhausted))
	require.Equal(t, "0xdead", failed.Result.Hash)

	_, err = store.Claim(ctx, "missing")
	require.True(t, errors.Is(err, ErrJobNotFound))
}

func TestMySQLStoreMarkTransitions(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Exec(`UPDATE submission_jobs SET status = ?, result_hash = ?, result_state = ?, result_vm_status = ?,
        result_fee_payer = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec(`UPDATE submission_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
			mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 0}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.MarkSucceeded(ctx, "j1", &transfer.Outcome{State: transfer.StateAlreadyRegistered}))
	require.Equal(t, string(StatusSucceeded), drv.Args(0)[0])
	require.Equal(t, transfer.StateAlreadyRegistered, drv.Args(0)[2])

	require.NoError(t, store.MarkFailed(ctx, "j2", "CHAIN_UNAVAILABLE", "down", false))
	require.Equal(t, string(StatusPending), drv.Args(1)[0])

	err = store.MarkFailed(ctx, "missing", "X", "x", true)
	require.True(t, errors.Is(err, ErrJobNotFound))
}

func TestMySQLStoreListBuildsFilters(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Query(`SELECT `+jobColumns+` FROM submission_jobs WHERE status IN (?,?) AND action IN (?) AND sender = ?
        AND result_state <> '' AND (id LIKE ? OR request LIKE ? OR last_error LIKE ? OR result_hash LIKE ?)
        ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`, mysqltest.Rows{
			Columns: jobColumnNames,
			Values:  [][]driver.Value{jobRow(t, "j1", StatusSucceeded, 1, "0xabc", "CONFIRMED")},
		}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	require.NoError(t, err)

	jobs, err := store.List(context.Background(),
		WithStatuses(StatusSucceeded, StatusFailed),
		WithActions(transfer.ActionTransfer),
		WithSender(testAddr(1)),
		WithResultPresence(true),
		WithQuery("abc"),
		WithSortOrder(SortByUpdatedAsc),
		WithLimit(500),
	)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "CONFIRMED", jobs[0].Result.State)

	args := drv.Args(0)
	require.Len(t, args, 10)
	require.Equal(t, "%abc%", args[4])
	require.EqualValues(t, maxListLimit, args[8])
}

func TestMySQLStoreStats(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Query("", mysqltest.Rows{
			Columns: []string{"total", "pending", "running", "succeeded", "failed", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(5), int64(1), int64(1), int64(2), int64(1), int64(10), int64(50)}},
		}),
	)
	defer drv.AssertConsumed(t)

	store, err := NewMySQLStore(db)
	require.NoError(t, err)

	stats, err := store.Stats(context.Background(), WithActions(transfer.ActionRegister))
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 5, Pending: 1, Running: 1, Succeeded: 2, Failed: 1, OldestUpdatedAt: 10, NewestUpdatedAt: 50}, stats)
	require.Len(t, drv.Args(0), 5)
}
