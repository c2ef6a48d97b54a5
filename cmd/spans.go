package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// commandPath returns the names of the commands leading to c, root first.
func commandPath(c *cobra.Command) []string {
	var path []string
	if c.HasParent() {
		path = commandPath(c.Parent())
	}
	return append(path, c.Name())
}

// setSpanAttributes records the command path and every flag set on the
// command line as attributes of span:
//   - command.path: the full path of the command as a string slice
//   - command.flag.<flag-name>: the value of each flag, typed where possible
func setSpanAttributes(cmd *cobra.Command, span trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.StringSlice("command.path", commandPath(cmd)),
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		attr, err := flagAttribute(cmd.Flags(), f)
		if err != nil {
			log.Warnf("getting flag %q value %v for telemetry: %v", f.Name, f.Value, err)
			return
		}
		attrs = append(attrs, attr)
	})
	span.SetAttributes(attrs...)
}

func flagAttribute(flags *pflag.FlagSet, f *pflag.Flag) (attribute.KeyValue, error) {
	k := "command.flag." + f.Name
	switch f.Value.Type() {
	case "bool":
		v, err := flags.GetBool(f.Name)
		return attribute.Bool(k, v), err
	case "int":
		v, err := flags.GetInt(f.Name)
		return attribute.Int(k, v), err
	case "uint":
		v, err := flags.GetUint(f.Name)
		return attribute.Int64(k, int64(v)), err
	case "stringSlice":
		v, err := flags.GetStringSlice(f.Name)
		return attribute.StringSlice(k, v), err
	default:
		return attribute.String(k, f.Value.String()), nil
	}
}
