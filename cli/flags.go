package cli

import (
	"flag"
)

const defaultConfigFile = "experiment.yaml"

// Flags represents command line flags
type Flags struct {
	ConfigFile *string
	Verbose    *bool
	ReportOnly *bool
	Version    *bool
}

// NewFlags creates and parses command line flags
func NewFlags() *Flags {
	flags := &Flags{
		ConfigFile: flag.String("config", defaultConfigFile, "Path to experiment configuration file"),
		Verbose:    flag.Bool("verbose", false, "Enable verbose logging"),
		ReportOnly: flag.Bool("report-only", false, "Regenerate the comparison report from existing results without running trials"),
		Version:    flag.Bool("version", false, "Show version information"),
	}

	flag.Parse()
	return flags
}
