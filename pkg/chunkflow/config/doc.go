/*
Package config loads pipeline settings from YAML or JSON files.

# Overview

Config wraps the decoded document and extracts typed values, falling back
to a default when a key is missing or holds the wrong type. PipelineConfig
is the validated set of engine settings built from it:

	cfg, err := config.FromFile("pipeline.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	pc, err := config.LoadPipeline(cfg)
	if err != nil {
	    log.Fatal(err)
	}
	markers, err := pc.OpenCheckpointStore()

# Keys

	chunk_concurrency   chunks processed at once (0 = GOMAXPROCS)
	unit_concurrency    work units processed at once (0 = GOMAXPROCS)
	write_retries       chunk write retries after the first attempt
	write_retry_delay   pause between write attempts ("1s" or seconds)
	checkpoint_backend  file, sqlite or memory
	checkpoint_path     marker directory or sqlite database file
	histogram_bins      number of histogram bins
	histogram_min       lower histogram bound
	histogram_max       upper histogram bound
	halo                overlap filter halo depth
	force               rerun units that already have markers
	log_level           debug, info, warn or error

Settings files may reference environment variables as ${VAR}; they are
expanded before decoding. An empty file means all defaults.

Durations accept Go duration strings or a number of seconds. Integers
written as whole floats (as JSON decodes them) are accepted.
*/
package config
