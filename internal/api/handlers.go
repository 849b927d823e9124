package api

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"CoSign-Chain/internal/auth"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/job"
	"CoSign-Chain/internal/transfer"
)

const maxBodyBytes = 1 << 20

// operatorMetadataKey 记录提交任务的运维账号。
const operatorMetadataKey = "operator"

// IdempotencyHeader 携带调用方生成的任务 ID，重复提交返回同一任务。
const IdempotencyHeader = "Idempotency-Key"

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !stdErrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求参数无效")
	}
	first := fieldErrs[0]
	return xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("字段 %s 未通过 %s 校验", first.Namespace(), first.Tag()),
		xerrors.WithMetadata("field", first.Namespace()),
		xerrors.WithMetadata("rule", first.Tag()))
}

func (s *Server) handleSubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.enqueue(w, r, body.request(), body.Metadata)
}

func (s *Server) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var body registrationBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.enqueue(w, r, body.request(), body.Metadata)
}

func (s *Server) handleSubmitBadge(action transfer.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body badgeBody
		if err := s.decode(w, r, &body); err != nil {
			writeError(w, err)
			return
		}
		s.enqueue(w, r, body.request(action), body.Metadata)
	}
}

// enqueue 创建异步任务。带 check=true 时先同步检查链上前置条件。
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, req transfer.Request, metadata map[string]string) {
	ctx := r.Context()
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if check, _ := strconv.ParseBool(r.URL.Query().Get("check")); check {
		if err := s.transfers.Check(ctx, req); err != nil {
			writeError(w, err)
			return
		}
	}
	if subject := auth.SubjectFromContext(ctx); subject != nil {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata[operatorMetadataKey] = subject.Username
	}
	created, err := s.jobs.Submit(ctx, job.SubmitRequest{
		ID:       strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		Request:  req,
		Metadata: metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+created.ID)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "认证未启用"))
		return
	}
	var body tokenBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), auth.TokenRequest(body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type jobList struct {
	Items []*job.Job `json:"items"`
	Stats job.Stats  `json:"stats"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	items, err := s.jobs.List(ctx, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(ctx, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobList{Items: items, Stats: stats})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleJobAttempts(w http.ResponseWriter, r *http.Request) {
	records, err := s.jobs.Attempts(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var body inspectBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	inspection, err := transfer.Inspect(body.Raw, s.transfers.Catalog())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inspection)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := codec.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.transfers.Account(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"fee_payer": s.transfers.FeePayer().String(),
		"jobs":      stats,
	})
}

// parseListOptions 解析 status、action、sender、since、until、has_result、order、q、limit、offset。
func parseListOptions(q url.Values) ([]job.ListOption, error) {
	var opts []job.ListOption
	if raw := q.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range splitList(raw) {
			status := job.Status(part)
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的任务状态 %q", part))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := q.Get("action"); raw != "" {
		var actions []transfer.Action
		for _, part := range splitList(raw) {
			action := transfer.Action(part)
			if !action.Valid() {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的操作类型 %q", part))
			}
			actions = append(actions, action)
		}
		opts = append(opts, job.WithActions(actions...))
	}
	if raw := q.Get("sender"); raw != "" {
		addr, err := codec.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, job.WithSender(addr))
	}
	for _, bound := range []struct {
		key   string
		apply func(time.Time) job.ListOption
	}{{"since", job.WithUpdatedSince}, {"until", job.WithUpdatedUntil}} {
		raw := q.Get(bound.key)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s 参数无效", bound.key))
		}
		opts = append(opts, bound.apply(ts))
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 参数无效")
		}
		opts = append(opts, job.WithResultPresence(has))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc/desc")
	}
	if raw := q.Get("q"); raw != "" {
		opts = append(opts, job.WithQuery(raw))
	}
	for _, page := range []struct {
		key   string
		apply func(int) job.ListOption
	}{{"limit", job.WithLimit}, {"offset", job.WithOffset}} {
		raw := q.Get(page.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 参数无效", page.key))
		}
		opts = append(opts, page.apply(n))
	}
	return opts, nil
}

// parseTime 接受 Unix 秒或 RFC3339。
func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
