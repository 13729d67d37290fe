package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itchgrab/itchgrab/internal/config"
	"github.com/itchgrab/itchgrab/internal/download"
	"github.com/itchgrab/itchgrab/internal/filter"
	"github.com/itchgrab/itchgrab/internal/itchio"
	"github.com/itchgrab/itchgrab/internal/keys"
	"github.com/itchgrab/itchgrab/internal/logging"
	"github.com/itchgrab/itchgrab/internal/pool"
	"github.com/itchgrab/itchgrab/internal/progress"
	"github.com/itchgrab/itchgrab/internal/resolve"
)

// getFlags carries the flag values; only flags the user actually set
// override the merged configuration.
type getFlags struct {
	profile string

	apiKey       string
	userAgent    string
	downloadTo   string
	mirrorWeb    bool
	urlsOnly     bool
	skipExisting bool
	parallel     int
	verbose      bool

	filterFilesPlatform []string
	filterFilesType     []string
	filterFilesGlob     string
	filterFilesRegex    string
	filterURLsGlob      string
	filterURLsRegex     string
}

// newGetCmd creates and configures the 'get' subcommand.
func newGetCmd() *cobra.Command {
	flags := &getFlags{}
	cmd := &cobra.Command{
		Use:   "get URL_OR_PATH...",
		Short: "Download games from itch.io URLs, jams, collections or local job files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.profile, "profile", "", "name of a config profile to overlay")
	f.StringVar(&flags.apiKey, "api-key", "", "itch.io API key (see https://itch.io/user/settings/api-keys)")
	f.StringVar(&flags.userAgent, "user-agent", "", "User-Agent header for all requests")
	f.StringVar(&flags.downloadTo, "download-to", "", "directory to save results to (default: current dir)")
	f.BoolVar(&flags.mirrorWeb, "mirror-web", false, "also mirror screenshots from the game sites")
	f.BoolVar(&flags.urlsOnly, "urls-only", false, "print the resolved game URLs and exit without downloading")
	f.BoolVar(&flags.skipExisting, "skip-existing", false, "skip games that already have a metadata file on disk")
	f.IntVar(&flags.parallel, "parallel", 0, "how many downloads to run in parallel")
	f.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")
	f.StringSliceVar(&flags.filterFilesPlatform, "filter-files-platform", nil,
		"only download files for these platforms (windows, linux, mac, android, native)")
	f.StringSliceVar(&flags.filterFilesType, "filter-files-type", nil,
		"only download files of these types (default, soundtrack, book, ...)")
	f.StringVar(&flags.filterFilesGlob, "filter-files-glob", "", "only download files matching this glob")
	f.StringVar(&flags.filterFilesRegex, "filter-files-regex", "", "only download files matching this regular expression")
	f.StringVar(&flags.filterURLsGlob, "filter-urls-glob", "", "only download games with URLs matching this glob")
	f.StringVar(&flags.filterURLsRegex, "filter-urls-regex", "", "only download games with URLs matching this regular expression")
	return cmd
}

func runGet(cmd *cobra.Command, args []string, flags *getFlags) error {
	fs := afero.NewOsFs()
	cfg, err := loadConfig(fs, flags, cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.APIKey == "" {
		return errors.New("no API key provided: pass --api-key, set ITCH_API_KEY, or add api_key to the config file")
	}

	ctx := cmd.Context()
	client := itchio.NewClient(cfg.APIKey, cfg.UserAgent, logger)
	if err := verifyAPIKey(ctx, client); err != nil {
		return err
	}

	urlCriteria, err := filter.NewCriteria(cfg.FilterURLsGlob, cfg.FilterURLsRegex)
	if err != nil {
		return fmt.Errorf("invalid URL filter: %w", err)
	}
	fileCriteria, err := filter.NewCriteria(cfg.FilterFilesGlob, cfg.FilterFilesRegex)
	if err != nil {
		return fmt.Errorf("invalid file filter: %w", err)
	}

	keyStore := keys.NewStore(client, logger)
	resolver := resolve.New(client, keyStore, fs, logger)

	var jobs []string
	for _, arg := range args {
		resolved, err := resolver.Resolve(ctx, arg)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", arg, err)
		}
		jobs = append(jobs, resolved...)
	}
	jobs = filter.PreprocessJobs(jobs, urlCriteria, logger)
	if len(jobs) == 0 {
		return errors.New("nothing to download")
	}
	logger.Info("found jobs", zap.Int("count", len(jobs)))

	if cfg.URLsOnly {
		for _, job := range jobs {
			fmt.Fprintln(cmd.OutOrStdout(), job)
		}
		return nil
	}

	index, err := keyStore.Owned(ctx)
	if err != nil {
		return fmt.Errorf("fetch download keys: %w", err)
	}

	downloader := download.New(client, index.DownloadKeys, download.Settings{
		OutputDir:           cfg.DownloadTo,
		MirrorWeb:           cfg.MirrorWeb,
		SkipExisting:        cfg.SkipExisting,
		FilterFilesType:     cfg.FilterFilesType,
		FilterFilesPlatform: config.NormalizePlatforms(cfg.FilterFilesPlatform, logger),
		FileCriteria:        fileCriteria,
	}, fs, logger)

	tracker := progress.New(len(jobs), progress.NewLogSink(logger))
	tracker.Start()
	results := pool.Run(ctx, jobs, cfg.Parallel, downloader.Download, tracker, logger)
	tracker.Stop()

	if failed := pool.Report(cmd.OutOrStdout(), results); failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}

// loadConfig merges the config file, profile and environment, then lets
// explicitly-set flags win.
func loadConfig(fs afero.Fs, flags *getFlags, cmd *cobra.Command) (config.Config, error) {
	dir, err := config.Dir()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(fs, dir, flags.profile)
	if err != nil {
		return config.Config{}, err
	}

	set := cmd.Flags().Changed
	if set("api-key") {
		cfg.APIKey = flags.apiKey
	}
	if set("user-agent") {
		cfg.UserAgent = flags.userAgent
	}
	if set("download-to") {
		cfg.DownloadTo = flags.downloadTo
	}
	if set("mirror-web") {
		cfg.MirrorWeb = flags.mirrorWeb
	}
	if set("urls-only") {
		cfg.URLsOnly = flags.urlsOnly
	}
	if set("skip-existing") {
		cfg.SkipExisting = flags.skipExisting
	}
	if set("parallel") {
		cfg.Parallel = flags.parallel
	}
	if set("verbose") {
		cfg.Verbose = flags.verbose
	}
	if set("filter-files-platform") {
		cfg.FilterFilesPlatform = flags.filterFilesPlatform
	}
	if set("filter-files-type") {
		cfg.FilterFilesType = flags.filterFilesType
	}
	if set("filter-files-glob") {
		cfg.FilterFilesGlob = flags.filterFilesGlob
	}
	if set("filter-files-regex") {
		cfg.FilterFilesRegex = flags.filterFilesRegex
	}
	if set("filter-urls-glob") {
		cfg.FilterURLsGlob = flags.filterURLsGlob
	}
	if set("filter-urls-regex") {
		cfg.FilterURLsRegex = flags.filterURLsRegex
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// verifyAPIKey confirms the key works before any downloads start.
func verifyAPIKey(ctx context.Context, client *itchio.Client) error {
	var profile struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := client.GetJSON(ctx, "/profile", true, nil, &profile); err != nil {
		return fmt.Errorf("the provided API key appears to be invalid: %w", err)
	}
	return nil
}
