package store

import (
	"sar/internal/model"
)

type ScheduleStore struct {
	*Container[model.Schedule, model.ScheduleFilter]
}

func NewScheduleStore(opts ...Option) *ScheduleStore {
	return &ScheduleStore{NewContainer[model.Schedule, model.ScheduleFilter](Accessors[model.Schedule]{
		ID:    func(s model.Schedule) int64 { return s.ID },
		SetID: func(s *model.Schedule, id int64) { s.ID = id },
	}, opts...)}
}

// SystemStore records are addressed by compound key on the wire; the id is
// local bookkeeping.
type SystemStore struct {
	*Container[model.SystemMaster, model.SystemFilter]
}

func NewSystemStore(opts ...Option) *SystemStore {
	return &SystemStore{NewContainer[model.SystemMaster, model.SystemFilter](Accessors[model.SystemMaster]{
		ID:    func(s model.SystemMaster) int64 { return s.ID },
		SetID: func(s *model.SystemMaster, id int64) { s.ID = id },
	}, opts...)}
}

// FindByKey looks a system up by type, code and validFrom date.
func (s *SystemStore) FindByKey(key model.SystemKey) (model.SystemMaster, bool) {
	return s.Find(func(m model.SystemMaster) bool {
		return m.SystemType == key.SystemType &&
			m.SystemCode == key.SystemCode &&
			m.ValidFrom.Format(model.DateLayout) == key.ValidFrom.Format(model.DateLayout)
	})
}

type PicStore struct {
	*Container[model.PicUser, model.PicFilter]
}

func NewPicStore(opts ...Option) *PicStore {
	return &PicStore{NewContainer[model.PicUser, model.PicFilter](Accessors[model.PicUser]{
		ID:    func(p model.PicUser) int64 { return p.ID },
		SetID: func(p *model.PicUser, id int64) { p.ID = id },
	}, opts...)}
}

type LogStore struct {
	*Container[model.LogEntry, model.LogFilter]
}

func NewLogStore(opts ...Option) *LogStore {
	return &LogStore{NewContainer[model.LogEntry, model.LogFilter](Accessors[model.LogEntry]{
		ID:    func(l model.LogEntry) int64 { return l.ID },
		SetID: func(l *model.LogEntry, id int64) { l.ID = id },
	}, opts...)}
}
