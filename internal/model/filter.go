package model

import (
	"net/url"
	"strings"
	"time"
)

// Filters travel three ways: as store filters, as query parameters on the
// REST API, and as cache keys. Empty fields mean "any".

type ScheduleFilter struct {
	Period string `json:"period,omitempty"`
	Status string `json:"status,omitempty"`
	Search string `json:"search,omitempty"`
}

func (f ScheduleFilter) Match(s Schedule) bool {
	return eq(f.Period, s.Period) &&
		eq(f.Status, s.Status) &&
		contains(f.Search, s.Description, s.Period)
}

func (f ScheduleFilter) Values() url.Values {
	return values("period", f.Period, "status", f.Status, "search", f.Search)
}

func ScheduleFilterFrom(q url.Values) ScheduleFilter {
	return ScheduleFilter{Period: q.Get("period"), Status: q.Get("status"), Search: q.Get("search")}
}

type SystemFilter struct {
	SystemType string `json:"systemType,omitempty"`
	SystemCode string `json:"systemCode,omitempty"`
	Status     string `json:"status,omitempty"`
	Search     string `json:"search,omitempty"`
}

func (f SystemFilter) Match(s SystemMaster) bool {
	return eq(f.SystemType, s.SystemType) &&
		eq(f.SystemCode, s.SystemCode) &&
		eq(f.Status, s.Status) &&
		contains(f.Search, s.SystemName, s.SystemCode, s.Description, s.PicName)
}

func (f SystemFilter) Values() url.Values {
	return values("systemType", f.SystemType, "systemCode", f.SystemCode, "status", f.Status, "search", f.Search)
}

func SystemFilterFrom(q url.Values) SystemFilter {
	return SystemFilter{
		SystemType: q.Get("systemType"),
		SystemCode: q.Get("systemCode"),
		Status:     q.Get("status"),
		Search:     q.Get("search"),
	}
}

type PicFilter struct {
	Division string `json:"division,omitempty"`
	Status   string `json:"status,omitempty"`
	Search   string `json:"search,omitempty"`
}

func (f PicFilter) Match(p PicUser) bool {
	return eq(f.Division, p.Division) &&
		eq(f.Status, p.Status) &&
		contains(f.Search, p.Name, p.Email)
}

func (f PicFilter) Values() url.Values {
	return values("division", f.Division, "status", f.Status, "search", f.Search)
}

func PicFilterFrom(q url.Values) PicFilter {
	return PicFilter{Division: q.Get("division"), Status: q.Get("status"), Search: q.Get("search")}
}

// LogFilter selects process log rows. From and To are dates in DateLayout
// and bound StartedAt inclusively.
type LogFilter struct {
	Module string `json:"module,omitempty"`
	Status string `json:"status,omitempty"`
	User   string `json:"user,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

func (f LogFilter) Match(l LogEntry) bool {
	if !eq(f.Module, l.Module) || !eq(f.Status, l.Status) || !eq(f.User, l.User) {
		return false
	}
	if from, err := time.Parse(DateLayout, f.From); err == nil && l.StartedAt.Before(from) {
		return false
	}
	if to, err := time.Parse(DateLayout, f.To); err == nil && !l.StartedAt.Before(to.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (f LogFilter) Values() url.Values {
	return values("module", f.Module, "status", f.Status, "user", f.User, "from", f.From, "to", f.To)
}

func LogFilterFrom(q url.Values) LogFilter {
	return LogFilter{
		Module: q.Get("module"),
		Status: q.Get("status"),
		User:   q.Get("user"),
		From:   q.Get("from"),
		To:     q.Get("to"),
	}
}

type ProgressFilter struct {
	Period     string `json:"period,omitempty"`
	DivisionID string `json:"divisionId,omitempty"`
}

func (f ProgressFilter) Match(p UARProgress) bool {
	return eq(f.Period, p.Period) && eq(f.DivisionID, p.DivisionID)
}

func (f ProgressFilter) Values() url.Values {
	return values("period", f.Period, "divisionId", f.DivisionID)
}

func ProgressFilterFrom(q url.Values) ProgressFilter {
	return ProgressFilter{Period: q.Get("period"), DivisionID: q.Get("divisionId")}
}

// AuditFilter selects stored audit entries. From and To are RFC 3339
// timestamps; To is exclusive.
type AuditFilter struct {
	UserName string `json:"userName,omitempty"`
	Action   string `json:"action,omitempty"`
	Module   string `json:"module,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

func AuditFilterFrom(q url.Values) AuditFilter {
	return AuditFilter{
		UserName: q.Get("userName"),
		Action:   q.Get("action"),
		Module:   q.Get("module"),
		Outcome:  q.Get("outcome"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
}

func eq(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

func contains(needle string, haystack ...string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func values(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}
