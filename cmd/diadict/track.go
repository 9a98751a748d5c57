package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/ahmethakanbesel/diadict/internal/config"
	"github.com/ahmethakanbesel/diadict/internal/dictionary"
	"github.com/ahmethakanbesel/diadict/internal/endpoint"
	"github.com/ahmethakanbesel/diadict/internal/progress"
)

const adminPath = "/dictionary/admin"

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "import export files already in the server's csv_files directory and follow their progress",
		ArgsUsage: "NAME...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "deel",
				Usage: "volume number (derived from the file name when omitted)",
			},
			&cli.StringFlag{
				Name:  "sectie",
				Usage: "section number",
			},
			&cli.StringFlag{
				Name:  "aflevering",
				Usage: "installment number (derived from the file name when omitted)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "import every export in the server's csv directory",
			},
		},
		Action: runImport,
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "run a database repair and follow its progress",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "repair type",
				Value: "lemma",
			},
		},
		Action: runRepair,
	}
}

func endpointsCommand() *cli.Command {
	return &cli.Command{
		Name:  "endpoints",
		Usage: "show the job endpoints the client would use",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			e, err := resolveEndpoints(ctx, cfg, http.DefaultClient)
			if err != nil {
				return err
			}
			fmt.Printf("import start:     %s\n", e.ImportStart)
			fmt.Printf("import progress:  %s\n", e.ImportProgress)
			fmt.Printf("repair start:     %s\n", e.RepairStart)
			fmt.Printf("repair progress:  %s\n", e.RepairProgress)
			return nil
		},
	}
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jobs, err := importParams(cmd.Args().Slice(), cmd.String("deel"), cmd.String("sectie"),
		cmd.String("aflevering"), cmd.Bool("all"))
	if err != nil {
		return err
	}

	e, err := resolveEndpoints(ctx, cfg, http.DefaultClient)
	if err != nil {
		return err
	}
	return track(ctx, cfg, e, e.ImportKind(), jobs)
}

func runRepair(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := resolveEndpoints(ctx, cfg, http.DefaultClient)
	if err != nil {
		return err
	}
	return track(ctx, cfg, e, e.RepairKind(), []progress.Params{{"repairtype": cmd.String("type")}})
}

// importParams builds one parameter set per file. Names refer to files in the
// server's csv_files directory. Explicit installment flags only apply to a
// single file.
func importParams(files []string, deel, sectie, aflevering string, all bool) ([]progress.Params, error) {
	if all {
		return []progress.Params{{"csv_file": "all", "deel": "0", "aflevering": "0"}}, nil
	}
	if len(files) == 0 {
		return nil, errors.New("no files given")
	}
	for _, f := range files {
		if filepath.Base(f) != f {
			return nil, fmt.Errorf("%s: give the file name as found in the server's csv_files directory, not a path", f)
		}
	}

	explicit := deel != "" || sectie != "" || aflevering != ""
	if explicit {
		if len(files) > 1 {
			return nil, errors.New("--deel, --sectie and --aflevering need a single file")
		}
		return []progress.Params{{
			"csv_file":   files[0],
			"deel":       deel,
			"sectie":     sectie,
			"aflevering": aflevering,
		}}, nil
	}

	out := make([]progress.Params, 0, len(files))
	for _, name := range files {
		a, ok := dictionary.ParseFileName(name)
		if !ok {
			return nil, fmt.Errorf("cannot derive installment from %s; pass --deel and --aflevering", name)
		}
		p := progress.Params{
			"csv_file":   name,
			"deel":       strconv.Itoa(a.Deel),
			"sectie":     "",
			"aflevering": strconv.Itoa(a.Number),
		}
		if a.Sectie > 0 {
			p["sectie"] = strconv.Itoa(a.Sectie)
		}
		out = append(out, p)
	}
	return out, nil
}

// resolveEndpoints uses the configured endpoints and discovers the missing
// ones from the admin page.
func resolveEndpoints(ctx context.Context, cfg config.Config, hc *http.Client) (endpoint.Endpoints, error) {
	e := endpoint.Endpoints{
		ImportStart:    cfg.Endpoints.ImportStart,
		ImportProgress: cfg.Endpoints.ImportProgress,
		RepairStart:    cfg.Endpoints.RepairStart,
		RepairProgress: cfg.Endpoints.RepairProgress,
		CSRFToken:      cfg.CSRFToken,
	}
	if e.ImportStart != "" && e.ImportProgress != "" && e.RepairStart != "" && e.RepairProgress != "" {
		return e, nil
	}

	found, err := endpoint.Discover(ctx, hc, strings.TrimRight(cfg.BaseURL, "/")+adminPath)
	if err != nil {
		return endpoint.Endpoints{}, fmt.Errorf("discover endpoints: %w", err)
	}
	fill(&e.ImportStart, found.ImportStart)
	fill(&e.ImportProgress, found.ImportProgress)
	fill(&e.RepairStart, found.RepairStart)
	fill(&e.RepairProgress, found.RepairProgress)
	fill(&e.CSRFToken, found.CSRFToken)
	return e, nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// track starts one job per parameter set and waits for all of them.
func track(ctx context.Context, cfg config.Config, e endpoint.Endpoints, kind progress.Kind, jobs []progress.Params) error {
	if kind.StartURL == "" || kind.ProgressURL == "" {
		return fmt.Errorf("no %s endpoints known", kind.Name)
	}

	client := endpoint.New(endpoint.WithCSRFToken(e.CSRFToken))
	display := progress.NewWriterDisplay(os.Stdout, kind.Name)
	m := progress.NewManager(client, func(string) progress.Display { return display },
		progress.WithTiming(progress.Timing{
			Initial: cfg.Poll.Initial,
			Idle:    cfg.Poll.Idle,
			Active:  cfg.Poll.Active,
		}),
		progress.WithRetryPolicy(progress.RetryPolicy{
			Initial:     cfg.Retry.Initial,
			Max:         cfg.Retry.Max,
			MaxFailures: cfg.Retry.MaxFailures,
		}),
	)
	defer m.Close()

	pollers := make([]*progress.Poller, 0, len(jobs))
	for _, params := range jobs {
		p, err := m.Start(ctx, kind, params)
		if err != nil {
			return fmt.Errorf("start %s %s: %w", kind.Name, kind.Identity(params), err)
		}
		pollers = append(pollers, p)
	}

	var failed int
	for _, p := range pollers {
		res, err := p.Wait(ctx)
		if err != nil {
			return err
		}
		if res.Outcome != progress.OutcomeFinished {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d %s jobs did not finish", failed, len(pollers), kind.Name)
	}
	return nil
}
