package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/dngdrop/internal/sizex"
	"github.com/dmitrijs2005/dngdrop/internal/timex"
)

// FileConfig is the on-disk shape of Config. Durations accept "90s" or
// integer nanoseconds, sizes accept "512MB" or a plain byte count.
type FileConfig struct {
	HTTPAddr        string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr" yaml:"grpc_addr"`
	UploadDir       string         `json:"upload_dir" yaml:"upload_dir"`
	OutputDir       string         `json:"output_dir" yaml:"output_dir"`
	WorkDir         string         `json:"work_dir" yaml:"work_dir"`
	StorageBackend  string         `json:"storage_backend" yaml:"storage_backend"`
	S3Endpoint      string         `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region        string         `json:"s3_region" yaml:"s3_region"`
	S3Bucket        string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3AccessKey     string         `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey     string         `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Prefix        string         `json:"s3_prefix" yaml:"s3_prefix"`
	S3PathStyle     bool           `json:"s3_path_style" yaml:"s3_path_style"`
	SecretKey       string         `json:"secret_key" yaml:"secret_key"`
	Fingerprint     string         `json:"fingerprint" yaml:"fingerprint"`
	ConverterPath   string         `json:"converter_path" yaml:"converter_path"`
	ExiftoolPath    string         `json:"exiftool_path" yaml:"exiftool_path"`
	ExifTags        []string       `json:"exif_tags" yaml:"exif_tags"`
	PipelineTimeout timex.Duration `json:"pipeline_timeout" yaml:"pipeline_timeout"`
	PreviewTimeout  timex.Duration `json:"preview_timeout" yaml:"preview_timeout"`
	MaxUploadSize   sizex.Bytes    `json:"max_upload_size" yaml:"max_upload_size"`
	ArtifactTTL     timex.Duration `json:"artifact_ttl" yaml:"artifact_ttl"`
	SweepInterval   timex.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	AdminToken      string         `json:"admin_token" yaml:"admin_token"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	HTTPTracing     bool           `json:"http_tracing" yaml:"http_tracing"`
}

func toFile(c *Config) *FileConfig {
	return &FileConfig{
		HTTPAddr:        c.HTTPAddr,
		GRPCAddr:        c.GRPCAddr,
		UploadDir:       c.UploadDir,
		OutputDir:       c.OutputDir,
		WorkDir:         c.WorkDir,
		StorageBackend:  c.StorageBackend,
		S3Endpoint:      c.S3Endpoint,
		S3Region:        c.S3Region,
		S3Bucket:        c.S3Bucket,
		S3AccessKey:     c.S3AccessKey,
		S3SecretKey:     c.S3SecretKey,
		S3Prefix:        c.S3Prefix,
		S3PathStyle:     c.S3PathStyle,
		SecretKey:       c.SecretKey,
		Fingerprint:     c.Fingerprint,
		ConverterPath:   c.ConverterPath,
		ExiftoolPath:    c.ExiftoolPath,
		ExifTags:        c.ExifTags,
		PipelineTimeout: timex.Duration{Duration: c.PipelineTimeout},
		PreviewTimeout:  timex.Duration{Duration: c.PreviewTimeout},
		MaxUploadSize:   c.MaxUploadSize,
		ArtifactTTL:     timex.Duration{Duration: c.ArtifactTTL},
		SweepInterval:   timex.Duration{Duration: c.SweepInterval},
		AdminToken:      c.AdminToken,
		LogLevel:        c.LogLevel,
		HTTPTracing:     c.HTTPTracing,
	}
}

func (f *FileConfig) apply(c *Config) {
	c.HTTPAddr = f.HTTPAddr
	c.GRPCAddr = f.GRPCAddr
	c.UploadDir = f.UploadDir
	c.OutputDir = f.OutputDir
	c.WorkDir = f.WorkDir
	c.StorageBackend = f.StorageBackend
	c.S3Endpoint = f.S3Endpoint
	c.S3Region = f.S3Region
	c.S3Bucket = f.S3Bucket
	c.S3AccessKey = f.S3AccessKey
	c.S3SecretKey = f.S3SecretKey
	c.S3Prefix = f.S3Prefix
	c.S3PathStyle = f.S3PathStyle
	c.SecretKey = f.SecretKey
	c.Fingerprint = f.Fingerprint
	c.ConverterPath = f.ConverterPath
	c.ExiftoolPath = f.ExiftoolPath
	c.ExifTags = f.ExifTags
	c.PipelineTimeout = f.PipelineTimeout.Duration
	c.PreviewTimeout = f.PreviewTimeout.Duration
	c.MaxUploadSize = f.MaxUploadSize
	c.ArtifactTTL = f.ArtifactTTL.Duration
	c.SweepInterval = f.SweepInterval.Duration
	c.AdminToken = f.AdminToken
	c.LogLevel = f.LogLevel
	c.HTTPTracing = f.HTTPTracing
}

// parseFile overlays the file at path onto config. Keys missing from the
// file keep their current values. Files ending in .yaml or .yml are read as
// YAML, anything else as JSON. An empty path is a no-op.
func parseFile(config *Config, path string) error {

	// nothing to load
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	fc := toFile(config)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}
