package database

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/apperr"
	"sar/internal/model"
)

// ieq matches col case-insensitively; an empty value matches anything.
func ieq(q sq.SelectBuilder, col, value string) sq.SelectBuilder {
	if value == "" {
		return q
	}
	return q.Where(sq.Expr(fmt.Sprintf("LOWER(%s) = LOWER(?)", col), value))
}

// search matches term as a substring of any of cols.
func search(q sq.SelectBuilder, term string, cols ...string) sq.SelectBuilder {
	term = strings.TrimSpace(term)
	if term == "" {
		return q
	}
	like := "%" + escapeLike(term) + "%"
	or := sq.Or{}
	for _, c := range cols {
		or = append(or, sq.ILike{c: like})
	}
	return q.Where(or)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func scheduleListQuery(f model.ScheduleFilter) sq.SelectBuilder {
	q := psql.Select(scheduleColumns...).From("schedules")
	q = ieq(q, "period", f.Period)
	q = ieq(q, "status", f.Status)
	q = search(q, f.Search, "description", "period")
	return q.OrderBy("valid_from DESC", "id DESC")
}

func systemListQuery(f model.SystemFilter) sq.SelectBuilder {
	q := psql.Select(systemColumns...).From("system_master")
	q = ieq(q, "system_type", f.SystemType)
	q = ieq(q, "system_code", f.SystemCode)
	q = ieq(q, "status", f.Status)
	q = search(q, f.Search, "system_name", "system_code", "description", "pic_name")
	return q.OrderBy("system_type", "system_code", "valid_from DESC")
}

func picListQuery(f model.PicFilter) sq.SelectBuilder {
	q := psql.Select(picColumns...).From("pic_users")
	q = ieq(q, "division", f.Division)
	q = ieq(q, "status", f.Status)
	q = search(q, f.Search, "name", "email")
	return q.OrderBy("name", "id")
}

// logListQuery bounds started_at by whole days; To is inclusive.
func logListQuery(f model.LogFilter, limit uint64) (sq.SelectBuilder, error) {
	q := psql.Select(logColumns...).From("process_logs")
	q = ieq(q, "module", f.Module)
	q = ieq(q, "status", f.Status)
	q = ieq(q, "username", f.User)
	if f.From != "" {
		from, err := time.Parse(model.DateLayout, f.From)
		if err != nil {
			return q, apperr.Invalid("from", "must be a date in YYYY-MM-DD form")
		}
		q = q.Where(sq.GtOrEq{"started_at": from})
	}
	if f.To != "" {
		to, err := time.Parse(model.DateLayout, f.To)
		if err != nil {
			return q, apperr.Invalid("to", "must be a date in YYYY-MM-DD form")
		}
		q = q.Where(sq.Lt{"started_at": to.AddDate(0, 0, 1)})
	}
	q = q.OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q, nil
}

func progressListQuery(f model.ProgressFilter) sq.SelectBuilder {
	q := psql.Select(progressColumns...).From("uar_progress")
	q = ieq(q, "period", f.Period)
	q = ieq(q, "division_id", f.DivisionID)
	return q.OrderBy("period", "division_id", "system_id")
}

// auditWhere applies f to any audit_log select. From is inclusive, To exclusive.
func auditWhere(q sq.SelectBuilder, f model.AuditFilter) (sq.SelectBuilder, error) {
	q = ieq(q, "user_name", f.UserName)
	q = ieq(q, "action", f.Action)
	q = ieq(q, "module", f.Module)
	q = ieq(q, "outcome", f.Outcome)
	if f.From != "" {
		from, err := time.Parse(time.RFC3339, f.From)
		if err != nil {
			return q, apperr.Invalid("from", "must be an RFC 3339 timestamp")
		}
		q = q.Where(sq.GtOrEq{"occurred_at": from})
	}
	if f.To != "" {
		to, err := time.Parse(time.RFC3339, f.To)
		if err != nil {
			return q, apperr.Invalid("to", "must be an RFC 3339 timestamp")
		}
		q = q.Where(sq.Lt{"occurred_at": to})
	}
	return q, nil
}
