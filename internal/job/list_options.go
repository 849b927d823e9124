package job

import (
	"strings"
	"time"

	"CoSign-Chain/internal/codec"
	"CoSign-Chain/internal/transfer"
)

// SortOrder defines how jobs are ordered when listing.
type SortOrder int

const (
	// SortByUpdatedDesc returns the most recently updated job first.
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc returns the oldest job first.
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions selects jobs from a store.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Actions    []transfer.Action
	Sender     *codec.AccountAddress
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	// Query matches job id, memo, error text or result hash.
	Query string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	opts.Actions = normalizeActions(opts.Actions)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// matches applies every filter except paging and ordering.
func (opts ListOptions) matches(j *Job) bool {
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, j.Status) {
		return false
	}
	if len(opts.Actions) > 0 && !containsAction(opts.Actions, j.Request.Action) {
		return false
	}
	if opts.Sender != nil && j.Request.Sender != *opts.Sender {
		return false
	}
	if opts.UpdatedGTE > 0 && j.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && j.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && (j.Result != nil) != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		fields := []string{j.ID, j.Request.Memo, j.LastError}
		if j.Result != nil {
			fields = append(fields, j.Result.Hash)
		}
		found := false
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of jobs returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset skips the first n matching jobs.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses filters jobs by status.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithActions filters jobs by request action.
func WithActions(actions ...transfer.Action) ListOption {
	return func(opts *ListOptions) {
		opts.Actions = append(opts.Actions[:0], actions...)
	}
}

// WithSender keeps jobs co-signed by addr.
func WithSender(addr codec.AccountAddress) ListOption {
	return func(opts *ListOptions) { opts.Sender = &addr }
}

// WithUpdatedSince filters jobs updated at or after ts.
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.UpdatedGTE = 0
		if !ts.IsZero() {
			opts.UpdatedGTE = ts.Unix()
		}
	}
}

// WithUpdatedUntil filters jobs updated at or before ts.
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.UpdatedLTE = 0
		if !ts.IsZero() {
			opts.UpdatedLTE = ts.Unix()
		}
	}
}

// WithResultPresence filters jobs by whether they carry an outcome.
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithSortOrder changes the returned order.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery filters jobs by a case-insensitive substring.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	seen := make(map[Status]struct{}, len(input))
	var result []Status
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	return result
}

func normalizeActions(input []transfer.Action) []transfer.Action {
	seen := make(map[transfer.Action]struct{}, len(input))
	var result []transfer.Action
	for _, action := range input {
		if !action.Valid() {
			continue
		}
		if _, ok := seen[action]; ok {
			continue
		}
		seen[action] = struct{}{}
		result = append(result, action)
	}
	return result
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAction(list []transfer.Action, a transfer.Action) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
