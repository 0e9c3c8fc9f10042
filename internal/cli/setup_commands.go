package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yt-ingest/internal/config"
	"yt-ingest/internal/extract"
	"yt-ingest/internal/storage"
	"yt-ingest/internal/store"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

func runDoctorChecks(ctx context.Context, cfg config.Config) doctorResult {
	res := doctorResult{OK: true}
	add := func(name string, ok bool, message string) {
		res.Checks = append(res.Checks, doctorCheck{Name: name, OK: ok, Message: message})
		if !ok {
			res.OK = false
		}
	}

	dep := extract.DependencyStatus()
	if dep.YTDLPFound {
		add("yt-dlp", true, dep.YTDLPPath)
	} else {
		add("yt-dlp", false, "not found on PATH")
	}
	if dep.FFmpegFound {
		add("ffmpeg", true, dep.FFmpegPath)
	} else {
		add("ffmpeg", false, "not found on PATH; many YouTube formats need it for merging")
	}

	st, err := store.Open(cfg.DBPath, store.WithMkdirAll())
	if err != nil {
		add("database", false, err.Error())
	} else {
		pingErr := st.Ping(ctx)
		st.Close()
		if pingErr != nil {
			add("database", false, pingErr.Error())
		} else {
			add("database", true, cfg.DBPath)
		}
	}

	if err := checkSpoolWritable(cfg.SpoolDir); err != nil {
		add("spool", false, err.Error())
	} else {
		add("spool", true, cfg.SpoolDir)
	}

	if !cfg.B2Configured() {
		add("b2", false, "not configured: set B2_KEY_ID, B2_APP_KEY, B2_BUCKET_ID, B2_BUCKET_NAME")
	} else {
		authCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		authErr := storage.NewB2Client(storage.Config{
			KeyID:      cfg.B2KeyID,
			AppKey:     cfg.B2AppKey,
			BucketID:   cfg.B2BucketID,
			BucketName: cfg.B2BucketName,
			APIURL:     cfg.B2APIURL,
		}).CheckAuth(authCtx)
		cancel()
		if authErr != nil {
			add("b2", false, authErr.Error())
		} else {
			add("b2", true, "credentials accepted for bucket "+cfg.B2BucketName)
		}
	}

	return res
}

func checkSpoolWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".writecheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func printDoctorChecks(res doctorResult) {
	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	res := runDoctorChecks(context.Background(), cfg)
	if *jsonOut {
		return printJSON(res)
	}
	printDoctorChecks(res)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

const envTemplate = `# yt-ingest runtime settings. Uncomment to override defaults.
#YTI_DB_PATH=data/ingest.db
#YTI_SPOOL_DIR=data/spool
#YTI_WORKERS=2
#YTI_QUALITY=best
#YTI_POLL_INTERVAL=10s
#YTI_JOB_PAUSE=1s
#YTI_REAP_AFTER=30m
#YTI_REAP_INTERVAL=2m
#YTI_RETRY_MAX=3
#YTI_RETRY_BASE_DELAY=2s
#YTI_RETRY_MULTIPLIER=2
#YTI_RATE_LIMIT_DELAY=30s
#YTI_REFRESH_DONE=false
#YTI_CLEANUP_AFTER=168h
#YTI_COOKIES=
#YTI_PROXY_MODE=off
#YTI_PROXIES=

# Backblaze B2 credentials (required for uploads).
B2_KEY_ID=
B2_APP_KEY=
B2_BUCKET_ID=
B2_BUCKET_NAME=
`

type initResult struct {
	EnvFile        string       `json:"env_file"`
	CreatedEnvFile bool         `json:"created_env_file"`
	DataDir        string       `json:"data_dir"`
	SpoolDir       string       `json:"spool_dir"`
	Doctor         doctorResult `json:"doctor"`
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "settings template path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir %s: %w", cfg.SpoolDir, err)
	}

	// Never overwrite an existing .env; it may hold live credentials.
	createdEnv := false
	if _, err := os.Stat(*envFile); os.IsNotExist(err) {
		if err := os.WriteFile(*envFile, []byte(envTemplate), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", *envFile, err)
		}
		createdEnv = true
	}

	res := initResult{
		EnvFile:        *envFile,
		CreatedEnvFile: createdEnv,
		DataDir:        dataDir,
		SpoolDir:       cfg.SpoolDir,
		Doctor:         runDoctorChecks(context.Background(), cfg),
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("env_file: %s\n", res.EnvFile)
	fmt.Printf("created_env_file: %t\n", res.CreatedEnvFile)
	fmt.Printf("data_dir: %s\n", res.DataDir)
	fmt.Printf("spool_dir: %s\n", res.SpoolDir)
	fmt.Println("checks:")
	for _, c := range res.Doctor.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("  %s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !res.Doctor.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: yt-ingest submit --url <youtube-url>")
	return nil
}
