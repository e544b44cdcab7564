package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imgcompare/compare"
	"imgcompare/config"
	"imgcompare/database"
	"imgcompare/export"
	"imgcompare/features"
	"imgcompare/hashcmp"
	"imgcompare/imageprocessor"
	"imgcompare/imghash"
	"imgcompare/logging"
	"imgcompare/retrieval"
	"imgcompare/scanner"
	"imgcompare/signalhandler"
	"imgcompare/similarity"
	"imgcompare/types"
	"imgcompare/utils"
)

// Exit codes
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitIncomplete = 3
)

func main() {
	os.Exit(run())
}

type app struct {
	args map[string]string
	cfg  *config.Config
	log  *logging.Logger
	db   *sql.DB
}

func run() int {
	args := utils.ParseArguments()

	command, hasCommand := args["command"]
	if !hasCommand || missingRequired(command, args) {
		utils.PrintUsage(os.Stderr)
		return exitUsage
	}

	cfg, err := config.Load(args["config"], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := cfg.ApplyFlags(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitUsage
	}

	log, err := logging.New(logging.Config{Color: cfg.Color, LogFile: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer log.Close()
	if cfg.LogFile != "" {
		log.Printf(logging.TagStatus, "Logging to: %s", cfg.LogFile)
	}

	ctx, stop := signalhandler.NotifyContext(context.Background())
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	a := &app{args: args, cfg: cfg, log: log}

	dbPath := cfg.Database
	if command == "stats" && dbPath == "" {
		dbPath = utils.GetDefaultDatabasePath()
	}
	if dbPath != "" {
		open := database.InitDatabase
		if command == "stats" {
			open = database.OpenDatabase
		}
		db, err := open(dbPath)
		if err != nil {
			log.Printf(logging.TagFail, "Failed to open database %s: %v", dbPath, err)
			return exitFailure
		}
		defer db.Close()
		a.db = db
	}

	startTime := time.Now()
	switch command {
	case "metric":
		err = a.handleMetricCommand(ctx)
	case "hash":
		err = a.handleHashCommand(ctx)
	case "retrieve":
		err = a.handleRetrieveCommand(ctx)
	case "stats":
		err = a.handleStatsCommand()
	}

	switch {
	case err == nil:
		log.Printf(logging.TagDone, "Finished in %v", time.Since(startTime).Round(time.Millisecond))
		return exitOK
	case errors.Is(err, types.ErrIncomplete):
		log.Printf(logging.TagWarning, "Interrupted after %v: %v",
			time.Since(startTime).Round(time.Millisecond), err)
		return exitIncomplete
	case errors.Is(err, types.ErrInvalidStrategy):
		log.Printf(logging.TagFail, "%v", err)
		return exitUsage
	default:
		log.Error(err, "%s failed", command)
		log.Printf(logging.TagFail, "%s failed: %v", command, err)
		return exitFailure
	}
}

func missingRequired(command string, args map[string]string) bool {
	switch command {
	case "metric", "hash":
		return args["first"] == "" || args["second"] == "" || args["strategy"] == ""
	case "retrieve":
		return args["folder"] == ""
	}
	return false
}

func serveMetrics(addr string, log *logging.Logger) {
	log.Printf(logging.TagStatus, "Serving metrics on %s/metrics", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn(err, "metrics server stopped")
	}
}

// loadDataset scans dir and loads every image it finds under policy
func (a *app) loadDataset(ctx context.Context, dir string, policy imageprocessor.Policy) ([]types.ImageRecord, error) {
	folderInfo, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access folder %s: %w", dir, err)
	}
	if !folderInfo.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	a.log.Printf(logging.TagStatus, "Scanning %s", dir)
	entries, stats := scanner.ScanDirectory(scanner.ScanOptions{FolderPath: dir, Echo: a.cfg.Echo, Logger: a.log})
	paths := scanner.Paths(entries)
	a.log.Printf(logging.TagLog, "Found %s images (%d skipped, %d errors)",
		humanize.Comma(int64(stats.Images)), stats.Skipped, stats.Errors)

	if a.cfg.Exif && a.db != nil {
		a.catalog(paths)
	}

	loader := imageprocessor.NewLoader(policy, imageprocessor.LoaderOptions{
		Workers: a.cfg.Workers,
		Logger:  a.log,
		Echo:    a.cfg.Echo,
	})
	records, report, err := loader.LoadAll(ctx, paths)
	if len(report.Failures) > 0 {
		a.log.Printf(logging.TagWarning, "%d of %d images could not be loaded", len(report.Failures), report.Requested)
	}
	a.log.Printf(logging.TagDone, "Loaded %d images from %s (%s)", len(records), dir, policy.Name())
	return records, err
}

// catalog records file and EXIF metadata of new or modified images
func (a *app) catalog(paths []string) {
	reader, err := scanner.NewMetadataReader(a.log)
	if err != nil {
		a.log.Warn(err, "skipping metadata catalog")
		return
	}
	defer reader.Close()

	var pending []string
	var infos []os.FileInfo
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		exists, storedModTime, err := database.CheckImageExists(a.db, p)
		if err != nil {
			a.log.Warn(err, "catalog lookup failed")
			continue
		}
		if exists && storedModTime == fi.ModTime().Format(time.RFC3339) {
			continue
		}
		pending = append(pending, p)
		infos = append(infos, fi)
	}

	var size int64
	for i, meta := range reader.Read(pending) {
		info := database.ImageInfo{
			Path:       meta.Path,
			Name:       filepath.Base(meta.Path),
			Format:     string(imageprocessor.GetFileFormat(meta.Path)),
			Width:      meta.Width,
			Height:     meta.Height,
			Size:       infos[i].Size(),
			ModifiedAt: infos[i].ModTime().Format(time.RFC3339),
			Make:       meta.Make,
			Model:      meta.Model,
			DateTaken:  meta.DateTaken,
		}
		if err := database.StoreImageInfo(a.db, info); err != nil {
			a.log.Warn(err, "catalog insert failed")
			continue
		}
		size += info.Size
	}
	a.log.Printf(logging.TagCreate, "Catalogued %d images (%s)", len(pending), humanize.Bytes(uint64(size)))
}

func (a *app) handleMetricCommand(ctx context.Context) error {
	strategy := a.args["strategy"]
	s, err := similarity.Parse(strategy)
	if err != nil {
		return err
	}
	direction := "lower"
	if s.HigherIsSimilar {
		direction = "higher"
	}
	a.log.Printf(logging.TagLog, "Computing %s, %s values mean more similar images", s.Name, direction)
	policy := imageprocessor.PolicySquare{Size: a.cfg.Size}

	d1, err := a.loadDataset(ctx, a.args["first"], policy)
	if err != nil {
		return err
	}
	d2, err := a.loadDataset(ctx, a.args["second"], policy)
	if err != nil {
		return err
	}

	engine := compare.NewEngine(compare.Options{
		Workers:  a.cfg.Workers,
		Logger:   a.log,
		Echo:     a.cfg.Echo,
		Progress: true,
	})
	m, err := engine.ComputeMatrixByName(ctx, d1, d2, strategy)
	if err != nil && !errors.Is(err, types.ErrIncomplete) {
		return err
	}

	if saveErr := a.saveMatrix(database.KindMetric, strategy, m); saveErr != nil {
		return saveErr
	}
	return err
}

func (a *app) handleHashCommand(ctx context.Context) error {
	name, err := hashcmp.ParseName(a.args["strategy"])
	if err != nil {
		return err
	}

	mode := a.args["mode"]
	if mode == "" {
		mode = "best"
	}
	if mode != "best" && mode != "matrix" {
		return fmt.Errorf("unknown mode %q (use best or matrix)", mode)
	}

	registry, err := imghash.NewRegistry()
	if err != nil {
		return err
	}

	policy := imageprocessor.PolicyNative{}
	d1, err := a.loadDataset(ctx, a.args["first"], policy)
	if err != nil {
		return err
	}
	d2, err := a.loadDataset(ctx, a.args["second"], policy)
	if err != nil {
		return err
	}

	engine := hashcmp.NewEngine(registry, hashcmp.Options{Workers: a.cfg.Workers, Logger: a.log, Echo: a.cfg.Echo})

	if mode == "matrix" {
		m, report, err := engine.FullMatrix(ctx, d1, d2, string(name))
		if err != nil && !errors.Is(err, types.ErrIncomplete) {
			return err
		}
		a.printHashReport(report)
		if saveErr := a.saveMatrix(database.KindHashMatrix, string(name), m); saveErr != nil {
			return saveErr
		}
		return err
	}

	_, includeIdentical := a.args["include-identical"]
	res, err := engine.FindBestMatches(ctx, d1, d2, string(name), !includeIdentical)
	if err != nil && !errors.Is(err, types.ErrIncomplete) {
		return err
	}
	a.printHashReport(&res.Report)

	answers := res.Answers()
	files, saveErr := export.WriteBestMatches(a.cfg.OutputDir, string(name), "dataset1", answers)
	if saveErr != nil {
		return saveErr
	}
	a.printFiles(files)
	a.show(export.BestMatchTable("dataset1", answers))

	if a.db != nil {
		id, dbErr := database.StoreBestMatches(a.db, res)
		if dbErr != nil {
			return dbErr
		}
		a.log.Printf(logging.TagCreate, "Stored run %s", id)
	}
	return err
}

func (a *app) handleRetrieveCommand(ctx context.Context) error {
	records, err := a.loadDataset(ctx, a.args["folder"], imageprocessor.PolicyFixedWidth{Width: a.cfg.Width})
	if err != nil {
		return err
	}

	idx, report, err := retrieval.Build(ctx, records, features.NewSIFT(), retrieval.Options{
		Workers:        a.cfg.Workers,
		MaxDescriptors: a.cfg.MaxDescriptors,
		Threshold:      a.cfg.Threshold,
		Logger:         a.log,
	})
	buildErr := err
	if err != nil && !errors.Is(err, types.ErrIncomplete) {
		return err
	}
	a.log.Printf(logging.TagLog, "Indexed %s descriptors of dimension %d from %d/%d images, threshold %.2f",
		humanize.Comma(int64(report.Descriptors)), idx.Dim(), report.Indexed, report.Images, idx.Threshold())

	if buildErr != nil {
		// Answer over what was indexed before the interruption
		a.log.Printf(logging.TagWarning, "Index is partial, answering over %d images", report.Indexed)
		ctx = context.WithoutCancel(ctx)
	}

	if t, ok := a.args["target"]; ok {
		target, err := utils.ParseIndex(t)
		if err != nil {
			return err
		}
		match, err := idx.FindSimilarImage(target)
		if errors.Is(err, types.ErrNoMatchFound) {
			a.log.Printf(logging.TagWarning, "No match found for %s", idx.Name(target))
			return buildErr
		}
		if err != nil {
			return err
		}
		a.log.Printf(logging.TagDone, "%s is most similar to %s (#%d)", idx.Name(target), idx.Name(match), match)
		return buildErr
	}

	answers, err := idx.Answers(ctx)
	if err != nil && !errors.Is(err, types.ErrIncomplete) {
		return err
	}
	if err == nil {
		err = buildErr
	}

	files, saveErr := export.WriteBestMatches(a.cfg.OutputDir, "sift", "image", answers)
	if saveErr != nil {
		return saveErr
	}
	a.printFiles(files)
	a.show(export.BestMatchTable("image", answers))

	if a.db != nil {
		failures := 0
		for _, ans := range answers {
			if ans.Err != nil {
				failures++
			}
		}
		id, dbErr := database.StoreAnswers(a.db, database.KindRetrieval, "sift", answers,
			err == nil && idx.Complete, failures+len(report.Failures))
		if dbErr != nil {
			return dbErr
		}
		a.log.Printf(logging.TagCreate, "Stored run %s", id)
	}
	return err
}

func (a *app) handleStatsCommand() error {
	stats, err := database.GetRunStats(a.db, a.args["strategy"])
	if err != nil {
		return err
	}

	export.Render(os.Stdout, &export.Table{
		Header: []string{"runs", "incomplete", "cells", "failed cells", "images"},
		Rows: [][]string{{
			strconv.Itoa(stats.Runs),
			strconv.Itoa(stats.Incomplete),
			humanize.Comma(int64(stats.Cells)),
			humanize.Comma(int64(stats.FailedCells)),
			humanize.Comma(int64(stats.Images)),
		}},
	})
	return nil
}

// saveMatrix exports the computed rows of m and stores them when a database
// is configured
func (a *app) saveMatrix(kind, strategy string, m *types.Matrix) error {
	if m.RowsDone() < len(m.RowIDs) {
		a.log.Printf(logging.TagWarning, "Only %d of %d rows were computed", m.RowsDone(), len(m.RowIDs))
	}

	files, err := export.WriteMatrix(a.cfg.OutputDir, strategy, "dataset1", m)
	if err != nil {
		return err
	}
	a.printFiles(files)
	a.show(export.MatrixTable("dataset1", m))

	if a.db != nil {
		id, err := database.StoreMatrix(a.db, kind, strategy, m)
		if err != nil {
			return err
		}
		a.log.Printf(logging.TagCreate, "Stored run %s", id)
	}
	return nil
}

func (a *app) printHashReport(r *hashcmp.Report) {
	if r.Failed() == 0 {
		return
	}
	a.log.Printf(logging.TagWarning, "%d images could not be hashed, %d comparisons failed",
		len(r.HashFailures), r.CompareFailures)
}

func (a *app) printFiles(files []string) {
	for _, f := range files {
		a.log.Printf(logging.TagCreate, "Wrote %s", f)
	}
}

// show renders the table on the console when --show is given
func (a *app) show(t *export.Table) {
	if _, ok := a.args["show"]; ok {
		export.Render(os.Stdout, t)
	}
}
