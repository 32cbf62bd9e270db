// Package config provides the configuration for the bqmeta job.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreGCS    = "gcs"
	StoreS3     = "s3"
	StoreFS     = "fs"
	StoreMemory = "memory"
)

// Warehouse drivers.
const (
	WarehouseBigQuery = "bigquery"
	WarehouseCatalog  = "catalog"
)

// Config holds everything one job invocation needs. It is built once at
// process start and passed by pointer into each component.
type Config struct {
	// Artifacts locates the published and consumed documents.
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`

	// Scan controls which warehouse datasets are walked and how tables are normalized.
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Store selects the object store backend.
	Store StoreConfig `json:"store" yaml:"store"`

	// Warehouse selects the metadata source backend.
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// HTTP trigger configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`
}

// ArtifactsConfig holds the bucket and object paths of every artifact.
type ArtifactsConfig struct {
	Bucket           string `json:"bucket" yaml:"bucket"`
	MetadataPath     string `json:"metadata_path" yaml:"metadata_path"`
	FiltersPath      string `json:"filters_path" yaml:"filters_path"`
	VersionsPath     string `json:"versions_path" yaml:"versions_path"`
	JoinsCSVPath     string `json:"joins_csv_path" yaml:"joins_csv_path"`
	JoinsJSONPath    string `json:"joins_json_path" yaml:"joins_json_path"`
	MarkedTablesPath string `json:"marked_tables_path" yaml:"marked_tables_path"`

	// ConvertJoins enables the CSV to JSON join example conversion.
	ConvertJoins bool `json:"convert_joins" yaml:"convert_joins"`

	// JoinsProjectPrefix is the project whose "project.dataset" table references
	// are rewritten to "project:dataset" in join examples.
	JoinsProjectPrefix string `json:"joins_project_prefix" yaml:"joins_project_prefix"`
}

// ScanConfig holds warehouse scan settings.
type ScanConfig struct {
	// Projects are scanned in this order.
	Projects []string `json:"projects" yaml:"projects"`

	// LabelsOnly restricts dataset listing to datasets carrying ScanLabel.
	LabelsOnly bool   `json:"labels_only" yaml:"labels_only"`
	ScanLabel  string `json:"scan_label" yaml:"scan_label"`

	// HandleViews enables shadow/view table normalization.
	HandleViews bool `json:"handle_views" yaml:"handle_views"`

	// BuildVersions enables the version index artifact.
	BuildVersions bool `json:"build_versions" yaml:"build_versions"`

	// PublicOnly restricts scans to datasets readable by all authenticated users.
	PublicOnly bool `json:"public_only" yaml:"public_only"`

	// ReadAllProjects lifts PublicOnly for individual projects.
	ReadAllProjects []string `json:"read_all_projects" yaml:"read_all_projects"`
}

// StoreConfig holds object store settings.
type StoreConfig struct {
	// Driver is one of gcs, s3, fs, memory.
	Driver string `json:"driver" yaml:"driver"`

	// FSRoot is the directory used by the fs driver.
	FSRoot string `json:"fs_root" yaml:"fs_root"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// WarehouseConfig holds metadata source settings.
type WarehouseConfig struct {
	// Driver is one of bigquery, catalog.
	Driver string `json:"driver" yaml:"driver"`

	// CatalogPath is the SQLite catalog file used by the catalog driver.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
}

// HTTPConfig holds the HTTP trigger configuration.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns the defaults of the deployed function.
func DefaultConfig() *Config {
	return &Config{
		Artifacts: ArtifactsConfig{
			Bucket:             "webapp-static-files-isb-cgc-dev",
			MetadataPath:       "bq_ecosys/bq_meta_data.json",
			FiltersPath:        "bq_ecosys/bq_meta_filters.json",
			VersionsPath:       "bq_ecosys/bq_versions.json",
			JoinsCSVPath:       "bq_ecosys/bq_useful_join.csv",
			JoinsJSONPath:      "bq_ecosys/bq_useful_join.json",
			MarkedTablesPath:   "bq_ecosys/bq_marked_tables.json",
			ConvertJoins:       true,
			JoinsProjectPrefix: "isb-cgc-bq",
		},
		Scan: ScanConfig{
			Projects:   []string{"isb-cgc", "isb-cgc-bq"},
			ScanLabel:  "bq_eco_scan",
			PublicOnly: true,
		},
		Store: StoreConfig{
			Driver: StoreGCS,
			FSRoot: "./data/bucket",
			S3:     S3Config{Region: "us-east-1"},
		},
		Warehouse: WarehouseConfig{
			Driver: WarehouseBigQuery,
		},
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// PublicOnlyFor reports whether only public datasets of project are scanned.
func (c *Config) PublicOnlyFor(project string) bool {
	return c.Scan.PublicOnly && !slices.Contains(c.Scan.ReadAllProjects, project)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Artifacts.Bucket == "" && c.Store.Driver != StoreMemory {
		return fmt.Errorf("artifacts.bucket is required")
	}
	if c.Artifacts.MetadataPath == "" || c.Artifacts.FiltersPath == "" {
		return fmt.Errorf("artifacts.metadata_path and artifacts.filters_path are required")
	}
	if c.Scan.BuildVersions && c.Artifacts.VersionsPath == "" {
		return fmt.Errorf("artifacts.versions_path is required when scan.build_versions is set")
	}
	if c.Artifacts.ConvertJoins && (c.Artifacts.JoinsCSVPath == "" || c.Artifacts.JoinsJSONPath == "") {
		return fmt.Errorf("artifacts.joins_csv_path and artifacts.joins_json_path are required when artifacts.convert_joins is set")
	}
	if len(c.Scan.Projects) == 0 {
		return fmt.Errorf("scan.projects must name at least one project")
	}
	if c.Scan.LabelsOnly && c.Scan.ScanLabel == "" {
		return fmt.Errorf("scan.scan_label is required when scan.labels_only is set")
	}

	switch c.Store.Driver {
	case StoreGCS, StoreS3, StoreFS, StoreMemory:
	default:
		return fmt.Errorf("invalid store driver: %s (must be gcs, s3, fs, or memory)", c.Store.Driver)
	}
	if c.Store.Driver == StoreFS && c.Store.FSRoot == "" {
		return fmt.Errorf("store.fs_root is required when store driver is fs")
	}

	switch c.Warehouse.Driver {
	case WarehouseBigQuery:
	case WarehouseCatalog:
		if c.Warehouse.CatalogPath == "" {
			return fmt.Errorf("warehouse.catalog_path is required when warehouse driver is catalog")
		}
	default:
		return fmt.Errorf("invalid warehouse driver: %s (must be bigquery or catalog)", c.Warehouse.Driver)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variables. The unprefixed keys are the
// deployment contract of the scheduled function; BQMETA_ keys select backends.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.Artifacts.Bucket, "STATIC_BUCKET_NAME")
	setString(&cfg.Artifacts.MetadataPath, "METADATA_FILE_PATH")
	setString(&cfg.Artifacts.FiltersPath, "FILTERS_FILE_PATH")
	setString(&cfg.Artifacts.VersionsPath, "VERSIONS_FILE_PATH")
	setString(&cfg.Artifacts.JoinsCSVPath, "JOINS_CSV_FILE_PATH")
	setString(&cfg.Artifacts.JoinsJSONPath, "JOINS_JSON_FILE_PATH")
	setString(&cfg.Artifacts.MarkedTablesPath, "MARKED_TABLES_FILE_PATH")
	setBool(&cfg.Artifacts.ConvertJoins, "JOIN_CSV_TO_JSON")

	if v := os.Getenv("BQ_PROJECT_NAMES"); v != "" {
		cfg.Scan.Projects = SplitProjects(v)
	}
	setBool(&cfg.Scan.LabelsOnly, "BQ_ECO_SCAN_LABELS_ONLY")
	setBool(&cfg.Scan.HandleViews, "BQ_HANDLE_VIEWS")
	setBool(&cfg.Scan.BuildVersions, "BQ_BUILD_VERSIONS")
	setBool(&cfg.Scan.PublicOnly, "READ_PUBLIC_ONLY")
	for _, project := range cfg.Scan.Projects {
		readAll := false
		setBool(&readAll, ReadAllEnvKey(project))
		if readAll && !slices.Contains(cfg.Scan.ReadAllProjects, project) {
			cfg.Scan.ReadAllProjects = append(cfg.Scan.ReadAllProjects, project)
		}
	}

	// Backend selection
	setString(&cfg.Store.Driver, "BQMETA_STORE_DRIVER")
	setString(&cfg.Store.FSRoot, "BQMETA_FS_ROOT")
	setString(&cfg.Store.S3.Region, "BQMETA_S3_REGION")
	setString(&cfg.Store.S3.Endpoint, "BQMETA_S3_ENDPOINT")
	setBool(&cfg.Store.S3.PathStyle, "BQMETA_S3_PATH_STYLE")
	setString(&cfg.Warehouse.Driver, "BQMETA_WAREHOUSE_DRIVER")
	setString(&cfg.Warehouse.CatalogPath, "BQMETA_CATALOG_PATH")

	setString(&cfg.Log.Level, "BQMETA_LOG_LEVEL")
	setString(&cfg.HTTP.Addr, "BQMETA_HTTP_ADDR")
	if v := os.Getenv("BQMETA_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ShutdownTimeout = d
		}
	}
}

// SplitProjects parses the slash separated project list.
func SplitProjects(v string) []string {
	var out []string
	for _, p := range strings.Split(v, "/") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReadAllEnvKey returns the per-project override key, e.g. ISB_CGC_BQ_READ_ALL.
func ReadAllEnvKey(project string) string {
	return strings.ToUpper(strings.ReplaceAll(project, "-", "_")) + "_READ_ALL"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setBool accepts the "True"/"False" spelling of the deployed function as
// well as anything strconv.ParseBool understands. Unparseable values are ignored.
func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}
