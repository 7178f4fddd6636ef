package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// classesCmd prints or writes the effective class table.
var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "Show the class table",
	Long: `Print the effective class table: built-in defaults, then the preset file,
then the overrides of the configuration file.

Examples:
  retouch classes
  retouch classes --format yaml
  retouch classes --write classes.yaml`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{{"class-preset", "classes.preset_file"}})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		table, err := cfg.ToClassConfig()
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("write"); path != "" {
			if err := table.SaveFile(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		}
		format, _ := cmd.Flags().GetString("format")
		return printClasses(cmd.OutOrStdout(), table, format)
	},
}

func printClasses(w io.Writer, table *classes.Config, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(table); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CLASS\tENABLED\tTHRESHOLD\tCOLOR")
		snap := table.Snapshot()
		for _, name := range table.Names() {
			s := snap[name]
			_, _ = fmt.Fprintf(tw, "%s\t%t\t%.2f\t%s\n", name, s.Enabled, s.Threshold, utils.HexColor(s.Color))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format %q (want text or yaml)", format)
	}
}

func init() {
	rootCmd.AddCommand(classesCmd)
	classesCmd.Flags().StringP("format", "f", "text", "output format (text, yaml)")
	classesCmd.Flags().StringP("write", "w", "", "write the table as a YAML preset to this file")
	classesCmd.Flags().String("class-preset", "", "YAML class preset file")
}
