package main

import "fdpool/internal/filemap"

type Config struct {
	CorpusDir      string         `mapstructure:"corpus_dir" yaml:"corpus_dir" validate:"required"`
	Workers        int            `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	Reads          int            `mapstructure:"reads" yaml:"reads" validate:"gte=1"`
	ReadLock       bool           `mapstructure:"read_lock" yaml:"read_lock"`
	IndexCacheSize int            `mapstructure:"index_cache_size" yaml:"index_cache_size" validate:"gte=1"`
	Pool           filemap.Config `mapstructure:"pool" yaml:"pool"`
	Report         ReportConfig   `mapstructure:"report" yaml:"report"`
	Metrics        MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type ReportConfig struct {
	OutFile  string         `mapstructure:"out_file" yaml:"out_file"`
	Format   string         `mapstructure:"format" yaml:"format" validate:"required,oneof=json human"`
	Encoding string         `mapstructure:"encoding" yaml:"encoding" validate:"omitempty,oneof=plain zstd"`
	DB       ReportDBConfig `mapstructure:"db" yaml:"db"`
}

type ReportDBConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Truncate bool   `mapstructure:"truncate" yaml:"truncate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

type GenConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir" validate:"required"`
	Files         int    `mapstructure:"files" yaml:"files" validate:"gte=1"`
	LinesPerFile  int    `mapstructure:"lines_per_file" yaml:"lines_per_file" validate:"gte=1"`
	MaxLineLength int    `mapstructure:"max_line_length" yaml:"max_line_length" validate:"gte=1,lte=65536"`
	Concurrency   int    `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
}
