package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/papers2zotero/internal/checkpoint"
	"github.com/matsen/papers2zotero/internal/config"
	"github.com/matsen/papers2zotero/internal/extract"
	"github.com/matsen/papers2zotero/internal/importer"
	"github.com/matsen/papers2zotero/internal/logging"
	"github.com/matsen/papers2zotero/internal/papers"
	"github.com/matsen/papers2zotero/internal/relocate"
	"github.com/matsen/papers2zotero/internal/zotero"
)

var migrateFlags struct {
	configFile   string
	apiKey       string
	libraryID    string
	libraryType  string
	papersFolder string

	collections   string
	noCollections bool

	keywordTypes   string
	labelMap       string
	labelTagPrefix string

	rowIDs  string
	author  string
	maxPubs int

	batchSize      int
	checkpointFile string
	errorsFile     string
	retry          bool
	dryRun         string

	attachments string
	linkBase    string
	cloud       string
	cloudAuth   string
	cloudToken  string
	moveLocal   bool

	logLevel string
}

func init() {
	f := migrateCmd.Flags()
	f.StringVarP(&migrateFlags.configFile, "config", "c", "", "YAML configuration file")
	f.StringVarP(&migrateFlags.apiKey, "api-key", "a", "", "Zotero API key (or ZOTERO_API_KEY)")
	f.StringVarP(&migrateFlags.libraryID, "library-id", "i", "", "Zotero library ID")
	f.StringVarP(&migrateFlags.libraryType, "library-type", "t", "", "Zotero library type (user or group)")
	f.StringVarP(&migrateFlags.papersFolder, "papers-folder", "f", "", "Path to the Papers2 folder")
	f.StringVarP(&migrateFlags.collections, "collections", "C", "", "Comma-delimited collections to mirror into Zotero (default: all)")
	f.BoolVar(&migrateFlags.noCollections, "no-collections", false, "Do not mirror Papers2 collections")
	f.StringVarP(&migrateFlags.keywordTypes, "keyword-types", "k", "", "Comma-delimited keyword kinds to convert into tags (user,auto,label)")
	f.StringVarP(&migrateFlags.labelMap, "label-map", "l", "", "Comma-delimited color=tag overrides for label keywords")
	f.StringVarP(&migrateFlags.labelTagPrefix, "label-tag-prefix", "L", "", "Tag prefix for unmapped label colors")
	f.StringVarP(&migrateFlags.rowIDs, "rowids", "r", "", "Comma-delimited publication ids to process")
	f.StringVar(&migrateFlags.author, "author", "", "Only publications whose author string contains this substring")
	f.IntVar(&migrateFlags.maxPubs, "max-pubs", 0, "Max number of publications to process (default: all)")
	f.IntVar(&migrateFlags.batchSize, "batch-size", 0, "Number of items uploaded to Zotero per batch")
	f.StringVar(&migrateFlags.checkpointFile, "checkpoint-file", "", "File tracking imported and failed publication ids across runs")
	f.StringVar(&migrateFlags.errorsFile, "errors-file", "", "File accumulating warnings and errors across runs")
	f.BoolVar(&migrateFlags.retry, "retry", false, "Retry previously failed publications")
	f.StringVar(&migrateFlags.dryRun, "dry-run", "", "Print item payloads instead of uploading; optional output file")
	f.Lookup("dry-run").NoOptDefVal = "stdout"
	f.StringVar(&migrateFlags.attachments, "attachments", "", "Which attachments to carry over: all, unread or none")
	f.StringVar(&migrateFlags.linkBase, "attachment-link-base", "", "Zotero linked-attachment base directory; set to link instead of upload")
	f.StringVar(&migrateFlags.cloud, "attachment-cloud", "", "Cloud backend for attachment relocation (gdrive); default is the local filesystem")
	f.StringVar(&migrateFlags.cloudAuth, "cloud-auth-settings", "", "OAuth client credentials file for the cloud backend")
	f.StringVar(&migrateFlags.cloudToken, "cloud-token-file", "", "Cached OAuth token file for the cloud backend")
	f.BoolVar(&migrateFlags.moveLocal, "move-attachments", false, "Delete source files after relocation instead of copying")
	f.StringVar(&migrateFlags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate publications from Papers2 to Zotero",
	Long: `Migrate publications from a Papers2 library to a Zotero library.

Usage:
  p2z migrate -c p2z.yml
  p2z migrate -i 12345 -a $ZOTERO_API_KEY -f ~/Papers2
  p2z migrate -r 354 --dry-run
  p2z migrate --attachment-link-base ~/Drive/Zotero --attachment-cloud gdrive`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// A .env file may carry the API key.
	_ = godotenv.Load()

	cfg, err := config.Load(migrateFlags.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitWithCode(ExitConfigError, err)
	}
	mergeFlags(cmd, &cfg)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ZOTERO_API_KEY")
	}

	dryRun := migrateFlags.dryRun != ""

	// Dry runs keep the errors file untouched.
	errorsFile := cfg.ErrorsFile
	if dryRun {
		errorsFile = ""
	}
	log, logCloser, err := logging.New(cfg.LogLevel, errorsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitWithCode(ExitError, err)
	}
	defer logCloser.Close()

	ctx := context.Background()

	db, err := papers.Open(cfg.PapersFolder)
	if err != nil {
		log.Error("opening papers2 library", "folder", cfg.PapersFolder, "err", err)
		return exitWithCode(ExitConfigError, err)
	}
	defer db.Close()

	// Dry runs do not touch the checkpoint either.
	var cp *checkpoint.Checkpoint
	if !dryRun && cfg.CheckpointFile != "" {
		cp, err = checkpoint.Load(cfg.CheckpointFile)
		if err != nil {
			log.Error("loading checkpoint", "path", cfg.CheckpointFile, "err", err)
			return exitWithCode(ExitError, err)
		}
		log.Warn("checkpoint loaded",
			"imported", cp.CountSucceeded(), "failed", len(cp.FailedIDs()))
	}

	client, err := zotero.NewClient(cfg.LibraryID, cfg.LibraryType, cfg.APIKey)
	if err != nil {
		log.Error("configuring zotero client", "err", err)
		return exitWithCode(ExitConfigError, err)
	}

	var sink *importer.DryRun
	if dryRun {
		sink, err = importer.NewDryRun(migrateFlags.dryRun)
		if err != nil {
			log.Error("opening dry-run output", "err", err)
			return exitWithCode(ExitError, err)
		}
	}

	mover, err := buildMover(ctx, cfg, dryRun, log)
	if err != nil {
		log.Error("configuring attachment mover", "err", err)
		return exitWithCode(ExitConfigError, err)
	}

	attachments, err := importer.ParseAttachmentMode(cfg.Attachments)
	if err != nil {
		log.Error("invalid attachment policy", "err", err)
		return exitWithCode(ExitConfigError, err)
	}

	imp, err := importer.New(ctx, importer.Config{
		Client:         client,
		Library:        db,
		Mover:          mover,
		LinkBase:       cfg.AttachmentLinkBase,
		Keywords:       keywordFilter(cfg.KeywordTypes),
		LabelMap:       cfg.BuildLabelMap(papers.LabelNames()),
		Collections:    cfg.Collections,
		AllCollections: !cfg.NoCollections && len(cfg.Collections) == 0,
		Attachments:    attachments,
		BatchSize:      cfg.BatchSize,
		Checkpoint:     cp,
		DryRun:         sink,
		RetryFailed:    migrateFlags.retry,
		Log:            log,
	})
	if err != nil {
		log.Error("initializing importer", "err", err)
		if zotero.IsAuthError(err) {
			return exitWithCode(ExitAuthError, err)
		}
		return exitWithCode(ExitError, err)
	}

	filter, maxPubs, err := buildFilter()
	if err != nil {
		log.Error("invalid publication filter", "err", err)
		return exitWithCode(ExitError, err)
	}
	if maxPubs == 0 {
		maxPubs, err = db.CountPublications(filter)
		if err != nil {
			log.Error("counting publications", "err", err)
			return exitWithCode(ExitError, err)
		}
	}
	log.Info("publications to process", "max", maxPubs)

	pubs, err := db.Publications(filter)
	if err != nil {
		log.Error("querying publications", "err", err)
		return exitWithCode(ExitError, err)
	}

	added := 0
	for _, pub := range pubs {
		if added >= maxPubs {
			log.Warn("stopping after max publications", "max", maxPubs)
			break
		}

		ok, err := imp.AddPub(ctx, pub)
		if err != nil {
			// Invalid credentials fail every batch identically; stop.
			if zotero.IsAuthError(err) {
				log.Error("zotero rejected credentials, aborting", "err", err)
				return exitWithCode(ExitAuthError, err)
			}
			log.Error("converting publication", "id", pub.ID, "title", pub.Title, "err", err)
			continue
		}
		if ok {
			log.Debug("queued publication", "id", pub.ID, "title", pub.Title)
			added++
		}
	}

	if err := imp.Close(ctx); err != nil {
		if zotero.IsAuthError(err) {
			log.Error("zotero rejected credentials, aborting", "err", err)
			return exitWithCode(ExitAuthError, err)
		}
		log.Error("flushing final batch", "err", err)
		return exitWithCode(ExitError, err)
	}

	log.Info("migration finished", "processed", added)
	return nil
}

// mergeFlags overlays explicitly-set CLI flags onto the file config.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("api-key") {
		cfg.APIKey = migrateFlags.apiKey
	}
	if set("library-id") {
		cfg.LibraryID = migrateFlags.libraryID
	}
	if set("library-type") {
		cfg.LibraryType = migrateFlags.libraryType
	}
	if set("papers-folder") {
		cfg.PapersFolder = migrateFlags.papersFolder
	}
	if set("collections") {
		cfg.Collections = splitNonEmpty(migrateFlags.collections)
	}
	if set("no-collections") {
		cfg.NoCollections = migrateFlags.noCollections
	}
	if set("keyword-types") {
		cfg.KeywordTypes = splitNonEmpty(migrateFlags.keywordTypes)
	}
	if set("label-map") {
		if cfg.LabelMap == nil {
			cfg.LabelMap = map[string]string{}
		}
		for _, pair := range splitNonEmpty(migrateFlags.labelMap) {
			if color, tag, ok := strings.Cut(pair, "="); ok {
				cfg.LabelMap[color] = tag
			}
		}
	}
	if set("label-tag-prefix") {
		cfg.LabelTagPrefix = migrateFlags.labelTagPrefix
	}
	if set("batch-size") {
		cfg.BatchSize = migrateFlags.batchSize
	}
	if set("checkpoint-file") {
		cfg.CheckpointFile = migrateFlags.checkpointFile
	}
	if set("errors-file") {
		cfg.ErrorsFile = migrateFlags.errorsFile
	}
	if set("attachments") {
		cfg.Attachments = migrateFlags.attachments
	}
	if set("attachment-link-base") {
		cfg.AttachmentLinkBase = migrateFlags.linkBase
	}
	if set("attachment-cloud") {
		cfg.AttachmentCloud = migrateFlags.cloud
	}
	if set("cloud-auth-settings") {
		cfg.CloudAuthSettings = migrateFlags.cloudAuth
	}
	if set("cloud-token-file") {
		cfg.CloudTokenFile = migrateFlags.cloudToken
	}
	if set("log-level") {
		cfg.LogLevel = migrateFlags.logLevel
	}
}

// buildMover creates the relocation backend when linked attachments are
// configured. Dry runs never move files.
func buildMover(ctx context.Context, cfg config.Config, dryRun bool, log *slog.Logger) (relocate.Mover, error) {
	if cfg.AttachmentLinkBase == "" || dryRun {
		return nil, nil
	}
	switch cfg.AttachmentCloud {
	case "":
		return relocate.NewLocal(migrateFlags.moveLocal, log), nil
	case "gdrive":
		return relocate.NewGDrive(ctx, cfg.CloudAuthSettings, cfg.CloudTokenFile, log)
	default:
		return nil, fmt.Errorf("unknown cloud backend %q", cfg.AttachmentCloud)
	}
}

func keywordFilter(kinds []string) extract.KeywordFilter {
	var kf extract.KeywordFilter
	for _, k := range kinds {
		switch strings.TrimSpace(k) {
		case "user":
			kf.User = true
		case "auto":
			kf.Auto = true
		case "label":
			kf.Label = true
		}
	}
	return kf
}

// buildFilter turns the selection flags into a publication filter. When an
// explicit id list is given and --max-pubs is not, the list length caps
// the run.
func buildFilter() (papers.Filter, int, error) {
	var f papers.Filter
	f.Author = migrateFlags.author

	maxPubs := migrateFlags.maxPubs
	if migrateFlags.rowIDs != "" {
		for _, s := range splitNonEmpty(migrateFlags.rowIDs) {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return f, 0, fmt.Errorf("invalid publication id %q", s)
			}
			f.IDs = append(f.IDs, id)
		}
		if maxPubs == 0 || maxPubs > len(f.IDs) {
			maxPubs = len(f.IDs)
		}
	}
	return f, maxPubs, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
