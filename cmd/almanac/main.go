package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"

	"almanac/internal/agenda"
	"almanac/internal/calendar"
	"almanac/internal/config"
	appLog "almanac/internal/log"
	"almanac/internal/metrics"
	"almanac/internal/model"
	"almanac/internal/recurrence"
	"almanac/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	calendarID string
	days       int
	once       bool
	advance    string
	next       string
	export     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.calendarID != "" {
		conf.DefaultCalendar = flags.calendarID
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	appLog.Info("almanac starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"document", conf.DocumentPath,
		"default_calendar", conf.DefaultCalendar,
		"horizon_days", conf.HorizonDays,
		"refresh", conf.RefreshCron,
		"custom_rules", len(conf.CustomRules),
		"ics_export", conf.ICSExport != nil,
	)

	if err := run(flags, conf); err != nil {
		appLog.Error("almanac failed", err)
		appLog.Sync()
		os.Exit(1)
	}
}

func run(flags flagConfig, conf *config.Config) error {
	reg := recurrence.NewRegistry()
	if err := conf.RegisterCustomRules(reg); err != nil {
		return err
	}
	m := metrics.New()
	store, err := agenda.Open(conf.DocumentPath, agenda.Options{
		DefaultCalendar:        conf.DefaultCalendar,
		HorizonDays:            conf.HorizonDays,
		MaxLookaheadYears:      conf.MaxLookaheadYears,
		MaxOccurrencesPerEvent: conf.MaxOccurrencesPerEvent,
		Evaluator:              recurrence.NewEvaluator(reg),
		Metrics:                m,
	})
	if err != nil {
		return err
	}

	q := agenda.Query{Days: flags.days}
	switch {
	case flags.advance != "":
		amount, unit, err := agenda.ParseStep(flags.advance)
		if err != nil {
			return err
		}
		res, err := store.Advance("", amount, unit)
		if err != nil {
			return err
		}
		info, err := store.Calendar("")
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (%+d days)\n", info.ID, info.CurrentText, res.CarriedDays)
		return nil

	case flags.next != "":
		occ, err := store.Next("", flags.next, nil, false)
		if err != nil {
			return err
		}
		info, err := store.Calendar("")
		if err != nil {
			return err
		}
		if occ == nil {
			fmt.Printf("%s: no occurrence within %d years\n", flags.next, conf.MaxLookaheadYears)
			return nil
		}
		printAgenda(os.Stdout, info.Schema, []model.Occurrence{*occ})
		return nil

	case flags.export:
		return exportICS(store, conf, q)

	case flags.once:
		a, err := store.Agenda(q)
		if err != nil {
			return err
		}
		printAgenda(os.Stdout, a.Schema(), a.Occurrences)
		for _, s := range a.Skipped {
			fmt.Fprintf(os.Stderr, "skipped: %s\n", s)
		}
		return nil
	}

	return serve(conf, store, m)
}

// serve runs the HTTP API plus the refresh job until SIGINT/SIGTERM.
func serve(conf *config.Config, store *agenda.Store, m *metrics.Metrics) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := conf.RefreshSchedule()
	if err != nil {
		return err
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { refresh(store, conf) }))
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	// Write the export once up front so the feed exists before the first tick.
	if conf.ICSExport != nil {
		if err := exportICS(store, conf, agenda.Query{}); err != nil {
			appLog.Error("initial ics export failed", err)
		}
	}

	err = web.StartServer(ctx, conf, store, m)
	appLog.Info("almanac exiting")
	return err
}

// refresh reloads the document, picking up edits made outside the API, and
// rewrites the ICS export.
func refresh(store *agenda.Store, conf *config.Config) {
	start := time.Now()
	if err := store.Reload(); err != nil {
		appLog.Error("refresh: reload failed", err, "document", conf.DocumentPath)
		return
	}
	if conf.ICSExport != nil {
		if err := exportICS(store, conf, agenda.Query{}); err != nil {
			appLog.Error("refresh: ics export failed", err)
			return
		}
	}
	appLog.Debug("refresh done", "elapsed", time.Since(start).String())
}

func exportICS(store *agenda.Store, conf *config.Config, q agenda.Query) error {
	if conf.ICSExport == nil {
		return errors.New("ics_export is not configured")
	}
	origin, err := conf.ICSExport.Origin()
	if err != nil {
		return err
	}
	return store.WriteICS(conf.ICSExport.Path, q, origin)
}

func printAgenda(w io.Writer, s *calendar.Schema, occs []model.Occurrence) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, occ := range occs {
		when := calendar.FormatWithSchema(s, occ.Start)
		if occ.AllDay {
			when += " (all day)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", when, occ.Title, occ.SourceType, occ.Priority)
	}
	_ = tw.Flush()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.calendarID, "calendar", "", "Calendar to act on (overrides default_calendar)")
	flag.IntVar(&cfg.days, "days", 0, "Agenda length in days for -once and -export (default: horizon_days)")
	flag.BoolVar(&cfg.once, "once", false, "Print the agenda from the current time and exit")
	flag.StringVar(&cfg.advance, "advance", "", "Move the current time, e.g. 3d, -4h, 90m, then exit")
	flag.StringVar(&cfg.next, "next", "", "Print the next occurrence of an event or phenomenon ID and exit")
	flag.BoolVar(&cfg.export, "export", false, "Write the ICS export once and exit")

	flag.Parse()

	return cfg
}
