package cmd

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/jmylchreest/hlsclient/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlsclient configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Values come from the built-in defaults, the config file and HLSCLIENT_
environment variables. Redirect the output to create a template:

  hlsclient config dump > .hlsclient.yaml

Environment variables use underscores for nesting.
Example: session.initial_rung -> HLSCLIENT_SESSION_INITIAL_RUNG`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func dumpConfig(c *config.Config) ([]byte, error) {
	data, err := yaml.Marshal(toMap(c))
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	data, err := dumpConfig(cfg)
	if err != nil {
		return err
	}

	fmt.Println("# hlsclient configuration")
	fmt.Println("#")
	fmt.Println("# Duration format: 500ms, 30s, 5m")
	fmt.Println("# session.initial_rung: highest or lowest")
	fmt.Println("")
	_, err = os.Stdout.Write(data)
	return err
}
