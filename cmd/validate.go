package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from defaults, the --config file and TELEMCAP_*
environment variables, validate it and report the result. With --print
the effective configuration is written out as YAML.

Examples:
  telemcap validate -c telemcap.yaml
  TELEMCAP_CAPTURE_PORT=20778 telemcap validate --print`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, bind(cmd, nil), cmd.OutOrStdout())
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration as YAML")
}

func runValidate(path string, dump bool, flags []config.FlagBinding, out io.Writer) error {
	cfg, err := config.Load(path, flags...)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	source := path
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(out, "VALID: %s (capture %s:%d -> %s, replay -> %s:%d at %gx)\n",
		source,
		cfg.Capture.Address, cfg.Capture.Port, cfg.Capture.OutFile,
		cfg.Replay.Address, cfg.Replay.Port, cfg.Replay.Speed,
	)

	if dump {
		data, err := cfg.Dump()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		fmt.Fprint(out, string(data))
	}
	return nil
}
