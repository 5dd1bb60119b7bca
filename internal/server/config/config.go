// Package config handles configuration for the server component,
// including defaults, a JSON or YAML file overlay, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/dngdrop/internal/fingerprint"
	"github.com/dmitrijs2005/dngdrop/internal/flagx"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
	"github.com/dmitrijs2005/dngdrop/internal/pipeline"
	"github.com/dmitrijs2005/dngdrop/internal/sizex"
)

// Storage backends.
const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// Config holds runtime settings for the dngdrop server.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses; an empty GRPCAddr disables the health service.
//   - UploadDir / WorkDir: transient spool and pipeline scratch space.
//   - OutputDir: artifact directory of the disk backend.
//   - SecretKey: HMAC secret for capability tokens; generated at startup when empty.
//   - ArtifactTTL: retention bound; zero keeps artifacts until download or reset.
//   - AdminToken: enables POST /admin/reset when set.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	UploadDir      string
	OutputDir      string
	WorkDir        string
	StorageBackend string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3PathStyle bool

	SecretKey       string
	Fingerprint     string
	ConverterPath   string
	ExiftoolPath    string
	ExifTags        []string
	PipelineTimeout time.Duration
	PreviewTimeout  time.Duration
	MaxUploadSize   sizex.Bytes
	ArtifactTTL     time.Duration
	SweepInterval   time.Duration
	AdminToken      string
	LogLevel        string
	HTTPTracing     bool
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":5221"
	c.GRPCAddr = ""
	c.UploadDir = "upload"
	c.OutputDir = "output"
	c.WorkDir = "work"
	c.StorageBackend = BackendDisk
	c.S3Region = "us-east-1"
	c.S3Bucket = "dngdrop"
	c.S3PathStyle = true
	c.SecretKey = ""
	c.Fingerprint = string(fingerprint.BLAKE2b)
	c.ConverterPath = "/Applications/Adobe DNG Converter.app/Contents/MacOS/Adobe DNG Converter"
	c.ExiftoolPath = "exiftool"
	c.ExifTags = append([]string(nil), pipeline.DefaultExifTags...)
	c.PipelineTimeout = 5 * time.Minute
	c.PreviewTimeout = time.Minute
	c.MaxUploadSize = 2 << 30
	c.ArtifactTTL = 0
	c.SweepInterval = 10 * time.Minute
	c.AdminToken = ""
	c.LogLevel = "info"
	c.HTTPTracing = false
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr must not be empty"))
	}
	switch c.StorageBackend {
	case BackendDisk:
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_backend %q", c.StorageBackend))
	}
	if _, err := fingerprint.New(c.Fingerprint); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.PipelineTimeout < 0 || c.PreviewTimeout < 0 || c.ArtifactTTL < 0 || c.SweepInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.ArtifactTTL > 0 && c.SweepInterval == 0 {
		errs = append(errs, errors.New("sweep_interval must be set when artifact_ttl is"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file and finally from command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, flagx.ConfigFileFlag()); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, os.Args[1:]); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
