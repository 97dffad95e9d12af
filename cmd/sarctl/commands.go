package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"sar/internal/model"
	"sar/internal/offline"
)

func newFlagSet(s *shell, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("sarctl "+name, pflag.ContinueOnError)
	fs.SetOutput(s.stderr)
	return fs
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(model.DateLayout)
}

func parseDay(name, v string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be a date in YYYY-MM-DD form", name)
	}
	return t, nil
}

// paging applies --page to a store after it has been loaded.
type paging interface {
	SetPage(int)
	CurrentPage() int
	TotalPages() int
	FilteredCount() int
}

func footer(w io.Writer, p paging) {
	fmt.Fprintf(w, "page %d of %d, %d records\n", p.CurrentPage(), max(1, p.TotalPages()), p.FilteredCount())
}

func cmdLogin(ctx context.Context, s *shell, args []string) error {
	var username, password string
	var passwordStdin bool
	fs := newFlagSet(s, "login")
	fs.StringVarP(&username, "username", "u", "", "user name")
	fs.StringVarP(&password, "password", "p", "", "password")
	fs.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if username == "" {
		return fmt.Errorf("--username is required")
	}
	if passwordStdin {
		line, err := bufio.NewReader(s.stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or --password-stdin)")
	}
	user, err := s.app.Login(ctx, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "Signed in as %s (%s)\n", user.Name, user.Role)
	return nil
}

func cmdLogout(ctx context.Context, s *shell, args []string) error {
	if !s.app.IsAuthenticated() {
		fmt.Fprintln(s.stdout, "Not signed in")
		return nil
	}
	if err := s.app.Logout(ctx); err != nil {
		s.log.WithError(err).Warn("backend logout failed; local session cleared")
	}
	fmt.Fprintln(s.stdout, "Signed out")
	return nil
}

func cmdWhoami(_ context.Context, s *shell, _ []string) error {
	user, ok := s.app.CurrentUser()
	if !ok || !s.app.IsAuthenticated() {
		return fmt.Errorf("not signed in")
	}
	w := table(s.stdout)
	fmt.Fprintf(w, "User:\t%s\n", user.Username)
	fmt.Fprintf(w, "Name:\t%s\n", user.Name)
	fmt.Fprintf(w, "Role:\t%s\n", user.Role)
	if user.Division != "" {
		fmt.Fprintf(w, "Division:\t%s\n", user.Division)
	}
	fmt.Fprintf(w, "Session expires:\t%s\n", humanize.Time(s.app.SessionExpiresAt()))
	return w.Flush()
}

func cmdSchedules(ctx context.Context, s *shell, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return schedulesList(ctx, s, args)
	case "create":
		return schedulesCreate(ctx, s, args)
	case "status":
		if len(args) != 2 {
			return fmt.Errorf("usage: sarctl schedules status <id> <Active|Inactive>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		if err := s.app.LoadSchedules(ctx); err != nil {
			return err
		}
		got, err := s.app.SetScheduleStatus(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.stdout, "Schedule %d is now %s\n", got.ID, got.Status)
		return nil
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: sarctl schedules delete <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		if err := s.app.LoadSchedules(ctx); err != nil {
			return err
		}
		if err := s.app.DeleteSchedule(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(s.stdout, "Schedule %d deleted\n", id)
		return nil
	}
	return fmt.Errorf("unknown schedules command %q (list, create, status, delete)", sub)
}

func schedulesList(ctx context.Context, s *shell, args []string) error {
	var f model.ScheduleFilter
	var page int
	fs := newFlagSet(s, "schedules list")
	fs.StringVar(&f.Period, "period", "", "review period, MM-YYYY")
	fs.StringVar(&f.Status, "status", "", "Active or Inactive")
	fs.StringVar(&f.Search, "search", "", "text search")
	fs.IntVar(&page, "page", 1, "page to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s.app.Schedules.ReplaceFilter(f)
	if err := s.app.LoadSchedules(ctx); err != nil {
		return err
	}
	s.app.Schedules.SetPage(page)

	w := table(s.stdout)
	fmt.Fprintln(w, "ID\tPERIOD\tSTATUS\tVALID FROM\tVALID TO\tDESCRIPTION")
	for _, sc := range s.app.Schedules.Page() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Period, sc.Status, day(sc.ValidFrom), day(sc.ValidTo), sc.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	footer(s.stdout, s.app.Schedules)
	return nil
}

func schedulesCreate(ctx context.Context, s *shell, args []string) error {
	var sc model.Schedule
	var from, to string
	fs := newFlagSet(s, "schedules create")
	fs.StringVar(&sc.Period, "period", "", "review period, MM-YYYY")
	fs.StringVar(&sc.Description, "description", "", "description")
	fs.StringVar(&sc.Status, "status", model.StatusActive, "Active or Inactive")
	fs.StringVar(&from, "from", "", "valid from, YYYY-MM-DD")
	fs.StringVar(&to, "to", "", "valid to, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	if sc.ValidFrom, err = parseDay("from", from); err != nil {
		return err
	}
	if sc.ValidTo, err = parseDay("to", to); err != nil {
		return err
	}
	saved, err := s.app.CreateSchedule(ctx, sc)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "Schedule %d created for %s\n", saved.ID, saved.Period)
	return nil
}

func cmdSystems(ctx context.Context, s *shell, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if len(args) > 0 && args[0] == "delete" {
		if len(args) != 4 {
			return fmt.Errorf("usage: sarctl systems delete <type> <code> <validFrom>")
		}
		from, err := parseDay("validFrom", args[3])
		if err != nil {
			return err
		}
		if err := s.app.LoadSystems(ctx); err != nil {
			return err
		}
		key := model.SystemKey{SystemType: args[1], SystemCode: args[2], ValidFrom: from}
		if err := s.app.DeleteSystem(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(s.stdout, "System %s/%s deleted\n", key.SystemType, key.SystemCode)
		return nil
	}
	if len(args) > 0 && args[0] == "list" {
		args = args[1:]
	}

	var f model.SystemFilter
	var page int
	fs := newFlagSet(s, "systems")
	fs.StringVar(&f.SystemType, "type", "", "system type")
	fs.StringVar(&f.SystemCode, "code", "", "system code")
	fs.StringVar(&f.Status, "status", "", "Active or Inactive")
	fs.StringVar(&f.Search, "search", "", "text search")
	fs.IntVar(&page, "page", 1, "page to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s.app.Systems.ReplaceFilter(f)
	if err := s.app.LoadSystems(ctx); err != nil {
		return err
	}
	s.app.Systems.SetPage(page)

	w := table(s.stdout)
	fmt.Fprintln(w, "TYPE\tCODE\tNAME\tSTATUS\tPIC\tVALID FROM\tVALID TO")
	for _, m := range s.app.Systems.Page() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", m.SystemType, m.SystemCode, m.SystemName, m.Status, m.PicName, day(m.ValidFrom), day(m.ValidTo))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	footer(s.stdout, s.app.Systems)
	return nil
}

func cmdPics(ctx context.Context, s *shell, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	var f model.PicFilter
	var page int
	fs := newFlagSet(s, "pic")
	fs.StringVar(&f.Division, "division", "", "division")
	fs.StringVar(&f.Status, "status", "", "Active or Inactive")
	fs.StringVar(&f.Search, "search", "", "text search")
	fs.IntVar(&page, "page", 1, "page to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s.app.Pics.ReplaceFilter(f)
	if err := s.app.LoadPics(ctx); err != nil {
		return err
	}
	s.app.Pics.SetPage(page)

	w := table(s.stdout)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tDIVISION\tSTATUS")
	for _, p := range s.app.Pics.Page() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Email, p.Division, p.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	footer(s.stdout, s.app.Pics)
	return nil
}

func cmdProgress(ctx context.Context, s *shell, args []string) error {
	var f model.ProgressFilter
	var watch time.Duration
	var bySystem bool
	fs := newFlagSet(s, "progress")
	fs.StringVar(&f.Period, "period", "", "review period, MM-YYYY")
	fs.StringVar(&f.DivisionID, "division", "", "division id")
	fs.BoolVar(&bySystem, "by-system", false, "group by system instead of division")
	fs.DurationVar(&watch, "watch", 0, "keep refreshing at this interval until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s.app.Progress.SetFilter(f)

	if s.app.IsAuthenticated() {
		if err := s.app.LoadProgress(ctx); err != nil {
			s.log.WithError(err).Warn("showing bundled progress data")
		}
	}
	render := func() {
		summary := s.app.DivisionSummary()
		label := "DIVISION"
		if bySystem {
			summary, label = s.app.SystemSummary(), "SYSTEM"
		}
		w := table(s.stdout)
		fmt.Fprintf(w, "%s\tCOMPLETED\tTOTAL\tPERCENT\n", label)
		for _, row := range summary {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.2f%%\n", row.Name, row.Completed, row.Total, row.Percentage)
		}
		fmt.Fprintf(w, "Grand total\t\t\t%.2f%%\n", s.app.GrandTotal())
		_ = w.Flush()
	}
	render()
	if watch <= 0 || !s.app.IsAuthenticated() {
		return nil
	}

	unsubscribe := s.app.Progress.Subscribe(func() {
		fmt.Fprintln(s.stdout)
		render()
	})
	defer unsubscribe()
	s.app.AutoRefreshProgress(ctx, watch)
	return nil
}

func cmdLogs(ctx context.Context, s *shell, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	var f model.LogFilter
	var page int
	fs := newFlagSet(s, "logs")
	fs.StringVar(&f.Module, "module", "", "module")
	fs.StringVar(&f.Status, "status", "", "Success or Error")
	fs.StringVar(&f.User, "user", "", "user")
	fs.StringVar(&f.From, "from", "", "started on or after, YYYY-MM-DD")
	fs.StringVar(&f.To, "to", "", "started on or before, YYYY-MM-DD")
	fs.IntVar(&page, "page", 1, "page to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s.app.Logs.ReplaceFilter(f)
	if err := s.app.LoadLogs(ctx); err != nil {
		return err
	}
	s.app.Logs.SetPage(page)

	w := table(s.stdout)
	fmt.Fprintln(w, "ID\tSTARTED\tMODULE\tFUNCTION\tSTATUS\tUSER\tDETAILS")
	for _, l := range s.app.Logs.Page() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.StartedAt.Format(time.DateTime), l.Module, l.Function, l.Status, l.User, l.Details)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	footer(s.stdout, s.app.Logs)
	return nil
}

func cmdCache(ctx context.Context, s *shell, args []string) error {
	if s.offline == nil {
		return fmt.Errorf("offline cache is disabled (offline.enabled)")
	}
	sub := "stats"
	if len(args) > 0 {
		sub = args[0]
	}
	msgs := map[string]offline.MessageType{
		"stats":    offline.GetCacheStats,
		"clear":    offline.ClearAllCaches,
		"preload":  offline.PreloadCriticalResources,
		"activate": offline.SkipWaiting,
	}
	typ, ok := msgs[sub]
	if !ok {
		return fmt.Errorf("unknown cache command %q (stats, clear, preload, activate)", sub)
	}
	msg := offline.Message{Type: typ}
	if typ == offline.PreloadCriticalResources && len(args) > 1 {
		msg.URLs = args[1:]
	}
	reply, err := s.offline.Control(ctx, msg)
	if err != nil {
		return err
	}

	switch typ {
	case offline.PreloadCriticalResources:
		fmt.Fprintf(s.stdout, "Preloaded %d resources\n", reply.Preloaded)
		for _, u := range reply.Failed {
			fmt.Fprintf(s.stdout, "  failed: %s\n", u)
		}
	case offline.ClearAllCaches:
		fmt.Fprintln(s.stdout, "Caches cleared")
	}
	w := table(s.stdout)
	fmt.Fprintf(w, "Version:\t%s\n", reply.Version)
	for _, c := range reply.Caches {
		fmt.Fprintf(w, "%s\t%d entries\t%s\n", c.Name, c.Entries, humanize.Bytes(uint64(c.Bytes)))
	}
	return w.Flush()
}
