package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smaxtec/sxapi/filter"
	"github.com/smaxtec/sxapi/sxapi"
)

var (
	eventAnimal string
	eventDevice string
	eventFrom   string
	eventTo     string
	filterExpr  string
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the events of an animal or device",
	Long: `List the events of an animal or device, optionally narrowed by a filter
expression such as:

  Type == "calving_confirmation" && daysSince(Timestamp) < 30`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventAnimal, "animal", "", "animal id")
	eventsCmd.Flags().StringVar(&eventDevice, "device", "", "device id")
	eventsCmd.Flags().StringVar(&eventFrom, "from", "", "start of the range (YYYY-MM-DD or RFC 3339)")
	eventsCmd.Flags().StringVar(&eventTo, "to", "", "end of the range (YYYY-MM-DD or RFC 3339)")
	eventsCmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression")
}

func runEvents(cmd *cobra.Command, args []string) error {
	subject, err := subjectFromFlags(eventAnimal, eventDevice)
	if err != nil {
		return err
	}
	from, to, err := parseRange(eventFrom, eventTo)
	if err != nil {
		return err
	}

	var f *filter.EventFilter
	if filterExpr != "" {
		f, err = filter.Compile(filterExpr)
		if err != nil {
			return fmt.Errorf("invalid filter expression: %w", err)
		}
	}

	q := sxapi.EventQuery{From: optionalTime(from), To: optionalTime(to)}
	return listEvents(cmd.Context(), client, cmd.OutOrStdout(), subject, q, f)
}

func listEvents(ctx context.Context, c *sxapi.Client, w io.Writer, subject sxapi.Subject, q sxapi.EventQuery, f *filter.EventFilter) error {
	logger.Info().
		Str(subject.QueryKey(), subject.SubjectID()).
		Msg("Fetching events")

	events, err := c.Events(ctx, subject, q)
	if err != nil {
		return err
	}

	total := len(events)
	if f != nil {
		events = f.Apply(events)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	fmt.Fprintf(w, "\nFound %d events", len(events))
	if f != nil {
		fmt.Fprintf(w, " (%d before filtering)", total)
	}
	fmt.Fprintln(w, ":")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, ev := range events {
		fmt.Fprintf(w, "• %s  %-30s level %d\n", ev.Timestamp.UTC().Format("2006-01-02 15:04"), ev.EventType, ev.Level)
	}

	return nil
}
