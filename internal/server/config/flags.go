package config

import (
	"github.com/spf13/pflag"

	"github.com/dmitrijs2005/dngdrop/internal/flagx"
)

// serverFlags lists every flag parseFlags understands, in both forms.
var serverFlags = []string{
	"-a", "--http-addr",
	"-g", "--grpc-addr",
	"-u", "--upload-dir",
	"-o", "--output-dir",
	"-w", "--work-dir",
	"-b", "--storage-backend",
	"--s3-endpoint", "--s3-region", "--s3-bucket", "--s3-access-key",
	"--s3-secret-key", "--s3-prefix", "--s3-path-style",
	"-s", "--secret-key",
	"-f", "--fingerprint",
	"--converter", "--exiftool", "--exif-tag",
	"-t", "--pipeline-timeout",
	"--preview-timeout",
	"-m", "--max-upload-size",
	"--artifact-ttl", "--sweep-interval",
	"--admin-token",
	"-l", "--log-level",
	"--http-tracing",
}

// parseFlags overlays command-line flags onto config. Unknown arguments are
// filtered out first with flagx.FilterArgs so that -c/-config and flags of
// other layers do not trip the parser.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := pflag.NewFlagSet("dngdrop", pflag.ContinueOnError)

	fs.StringVarP(&config.HTTPAddr, "http-addr", "a", config.HTTPAddr, "HTTP listen address")
	fs.StringVarP(&config.GRPCAddr, "grpc-addr", "g", config.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVarP(&config.UploadDir, "upload-dir", "u", config.UploadDir, "upload spool directory")
	fs.StringVarP(&config.OutputDir, "output-dir", "o", config.OutputDir, "artifact directory (disk backend)")
	fs.StringVarP(&config.WorkDir, "work-dir", "w", config.WorkDir, "pipeline scratch directory")
	fs.StringVarP(&config.StorageBackend, "storage-backend", "b", config.StorageBackend, "artifact storage: disk or s3")

	fs.StringVar(&config.S3Endpoint, "s3-endpoint", config.S3Endpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "S3 key prefix")
	fs.BoolVar(&config.S3PathStyle, "s3-path-style", config.S3PathStyle, "use path-style S3 addressing")

	fs.StringVarP(&config.SecretKey, "secret-key", "s", config.SecretKey, "token signing secret (random when empty)")
	fs.StringVarP(&config.Fingerprint, "fingerprint", "f", config.Fingerprint, "content fingerprint: blake2b, blake3 or md5")
	fs.StringVar(&config.ConverterPath, "converter", config.ConverterPath, "RAW to DNG converter executable")
	fs.StringVar(&config.ExiftoolPath, "exiftool", config.ExiftoolPath, "exiftool executable")
	fs.StringArrayVar(&config.ExifTags, "exif-tag", config.ExifTags, "Tag=Value written to every DNG (repeatable)")
	fs.DurationVarP(&config.PipelineTimeout, "pipeline-timeout", "t", config.PipelineTimeout, "processing timeout per file")
	fs.DurationVar(&config.PreviewTimeout, "preview-timeout", config.PreviewTimeout, "preview extraction timeout")
	fs.VarP(&config.MaxUploadSize, "max-upload-size", "m", "maximum upload request size (e.g. 2GB)")
	fs.DurationVar(&config.ArtifactTTL, "artifact-ttl", config.ArtifactTTL, "evict artifacts older than this (0 keeps them)")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "how often the eviction sweep runs")
	fs.StringVar(&config.AdminToken, "admin-token", config.AdminToken, "token enabling POST /admin/reset")
	fs.StringVarP(&config.LogLevel, "log-level", "l", config.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&config.HTTPTracing, "http-tracing", config.HTTPTracing, "wrap HTTP handlers with OpenTelemetry")

	return fs.Parse(args)
}
