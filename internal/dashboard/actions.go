package dashboard

import (
	"context"
	"fmt"

	"sar/internal/apperr"
	"sar/internal/model"
	"sar/internal/store"
)

// createOptimistic adds item with a provisional id, sends it and swaps in
// the server copy. The provisional record is removed when send fails.
func createOptimistic[T any, F store.Matcher[T]](c *store.Container[T, F], item T, by string, send func(T) (T, error)) (T, error) {
	provisional := c.Add(item, by)
	id := c.IDOf(provisional)
	saved, err := send(provisional)
	if err != nil {
		c.Delete(id)
		var zero T
		return zero, err
	}
	c.Reconcile(id, saved)
	return saved, nil
}

// updateOptimistic merges patch into the record with id, sends the merged
// record and stores the server copy. The previous record is restored when
// send fails.
func updateOptimistic[T any, F store.Matcher[T]](c *store.Container[T, F], id int64, patch T, by string, send func(T) (T, error)) (T, error) {
	var zero T
	prev, ok := c.Get(id)
	if !ok {
		return zero, fmt.Errorf("record %d: %w", id, apperr.ErrNotFound)
	}
	merged, err := c.Update(id, patch, by)
	if err != nil {
		return zero, err
	}
	saved, err := send(merged)
	if err != nil {
		c.Replace(id, prev)
		return zero, err
	}
	c.Replace(id, saved)
	return saved, nil
}

func deleteOptimistic[T any, F store.Matcher[T]](c *store.Container[T, F], id int64, send func(T) error) error {
	removed, ok := c.Delete(id)
	if !ok {
		return fmt.Errorf("record %d: %w", id, apperr.ErrNotFound)
	}
	if err := send(removed); err != nil {
		c.Restore(removed)
		return err
	}
	return nil
}

// Schedules

func (a *App) LoadSchedules(ctx context.Context) error {
	items, err := a.apis.Schedules.List(ctx, a.Schedules.Filter())
	if err != nil {
		a.record(model.ActionView, moduleSchedule, "Load schedules", err)
		return err
	}
	a.Schedules.SetCollection(items)
	return nil
}

func (a *App) CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	if err := s.Validate(); err != nil {
		return model.Schedule{}, err
	}
	saved, err := createOptimistic(a.Schedules.Container, s, a.username(), func(s model.Schedule) (model.Schedule, error) {
		return a.apis.Schedules.Create(ctx, s)
	})
	a.record(model.ActionCreate, moduleSchedule, fmt.Sprintf("Create schedule for period %s", s.Period), err)
	return saved, err
}

func (a *App) UpdateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	if err := s.Validate(); err != nil {
		return model.Schedule{}, err
	}
	saved, err := updateOptimistic(a.Schedules.Container, s.ID, s, a.username(), func(s model.Schedule) (model.Schedule, error) {
		return a.apis.Schedules.Update(ctx, s)
	})
	a.record(model.ActionUpdate, moduleSchedule, fmt.Sprintf("Update schedule %d", s.ID), err)
	return saved, err
}

func (a *App) DeleteSchedule(ctx context.Context, id int64) error {
	err := deleteOptimistic(a.Schedules.Container, id, func(model.Schedule) error {
		return a.apis.Schedules.Delete(ctx, id)
	})
	a.record(model.ActionDelete, moduleSchedule, fmt.Sprintf("Delete schedule %d", id), err)
	return err
}

func (a *App) SetScheduleStatus(ctx context.Context, id int64, status string) (model.Schedule, error) {
	if err := model.ValidateStatus(status); err != nil {
		return model.Schedule{}, err
	}
	saved, err := updateOptimistic(a.Schedules.Container, id, model.Schedule{Status: status}, a.username(), func(model.Schedule) (model.Schedule, error) {
		return a.apis.Schedules.SetStatus(ctx, id, status)
	})
	a.record(model.ActionStatusChange, moduleSchedule, fmt.Sprintf("Set schedule %d status to %s", id, status), err)
	return saved, err
}

// System master

func (a *App) LoadSystems(ctx context.Context) error {
	items, err := a.apis.Systems.List(ctx, a.Systems.Filter())
	if err != nil {
		a.record(model.ActionView, moduleSystem, "Load systems", err)
		return err
	}
	a.Systems.SetCollection(items)
	return nil
}

func (a *App) CreateSystem(ctx context.Context, s model.SystemMaster) (model.SystemMaster, error) {
	if err := s.Validate(); err != nil {
		return model.SystemMaster{}, err
	}
	if _, exists := a.Systems.FindByKey(s.Key()); exists {
		return model.SystemMaster{}, fmt.Errorf("system %s/%s: %w", s.SystemType, s.SystemCode, apperr.ErrConflict)
	}
	saved, err := createOptimistic(a.Systems.Container, s, a.username(), func(s model.SystemMaster) (model.SystemMaster, error) {
		return a.apis.Systems.Create(ctx, s)
	})
	a.record(model.ActionCreate, moduleSystem, fmt.Sprintf("Create system %s/%s", s.SystemType, s.SystemCode), err)
	return saved, err
}

// UpdateSystem replaces the system stored under key. s may carry a new
// validity window.
func (a *App) UpdateSystem(ctx context.Context, key model.SystemKey, s model.SystemMaster) (model.SystemMaster, error) {
	if err := s.Validate(); err != nil {
		return model.SystemMaster{}, err
	}
	prev, ok := a.Systems.FindByKey(key)
	if !ok {
		return model.SystemMaster{}, fmt.Errorf("system %s/%s: %w", key.SystemType, key.SystemCode, apperr.ErrNotFound)
	}
	saved, err := updateOptimistic(a.Systems.Container, prev.ID, s, a.username(), func(s model.SystemMaster) (model.SystemMaster, error) {
		return a.apis.Systems.Update(ctx, key, s)
	})
	a.record(model.ActionUpdate, moduleSystem, fmt.Sprintf("Update system %s/%s", key.SystemType, key.SystemCode), err)
	return saved, err
}

func (a *App) DeleteSystem(ctx context.Context, key model.SystemKey) error {
	err := a.deleteSystem(ctx, key)
	a.record(model.ActionDelete, moduleSystem, fmt.Sprintf("Delete system %s/%s", key.SystemType, key.SystemCode), err)
	return err
}

func (a *App) deleteSystem(ctx context.Context, key model.SystemKey) error {
	prev, ok := a.Systems.FindByKey(key)
	if !ok {
		return fmt.Errorf("system %s/%s: %w", key.SystemType, key.SystemCode, apperr.ErrNotFound)
	}
	return deleteOptimistic(a.Systems.Container, prev.ID, func(model.SystemMaster) error {
		return a.apis.Systems.Delete(ctx, key)
	})
}

// PIC

func (a *App) LoadPics(ctx context.Context) error {
	items, err := a.apis.Pics.List(ctx, a.Pics.Filter())
	if err != nil {
		a.record(model.ActionView, modulePic, "Load PIC users", err)
		return err
	}
	a.Pics.SetCollection(items)
	return nil
}

func (a *App) CreatePic(ctx context.Context, p model.PicUser) (model.PicUser, error) {
	if err := p.Validate(); err != nil {
		return model.PicUser{}, err
	}
	saved, err := createOptimistic(a.Pics.Container, p, a.username(), func(p model.PicUser) (model.PicUser, error) {
		return a.apis.Pics.Create(ctx, p)
	})
	a.record(model.ActionCreate, modulePic, fmt.Sprintf("Create PIC %s", p.Name), err)
	return saved, err
}

func (a *App) UpdatePic(ctx context.Context, p model.PicUser) (model.PicUser, error) {
	if err := p.Validate(); err != nil {
		return model.PicUser{}, err
	}
	saved, err := updateOptimistic(a.Pics.Container, p.ID, p, a.username(), func(p model.PicUser) (model.PicUser, error) {
		return a.apis.Pics.Update(ctx, p)
	})
	a.record(model.ActionUpdate, modulePic, fmt.Sprintf("Update PIC %d", p.ID), err)
	return saved, err
}

func (a *App) DeletePic(ctx context.Context, id int64) error {
	err := deleteOptimistic(a.Pics.Container, id, func(model.PicUser) error {
		return a.apis.Pics.Delete(ctx, id)
	})
	a.record(model.ActionDelete, modulePic, fmt.Sprintf("Delete PIC %d", id), err)
	return err
}

// Logs

func (a *App) LoadLogs(ctx context.Context) error {
	items, err := a.apis.Logs.List(ctx, a.Logs.Filter())
	if err != nil {
		a.record(model.ActionView, moduleLogs, "Load process logs", err)
		return err
	}
	a.Logs.SetCollection(items)
	return nil
}
