package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smaxtec/sxapi/dim"
	"github.com/smaxtec/sxapi/sxapi"
)

const (
	defaultDIMDays = 365
	dimConcurrency = 10
	plotHeight     = 15
	plotWidth      = 72
)

var (
	dimAnimal       string
	dimOrganisation string
	dimFrom         string
	dimTo           string
	dimInterval     time.Duration
	dimPlot         bool
)

// dimCmd represents the dim command
var dimCmd = &cobra.Command{
	Use:   "dim",
	Short: "Compute days in milk",
	Long: `Compute the days in milk of an animal over a time range, or the current
days in milk of every animal of an organisation.`,
	RunE: runDIM,
}

func init() {
	dimCmd.Flags().StringVar(&dimAnimal, "animal", "", "animal id")
	dimCmd.Flags().StringVar(&dimOrganisation, "organisation", "", "organisation id")
	dimCmd.Flags().StringVar(&dimFrom, "from", "", "start of the range (default one year ago)")
	dimCmd.Flags().StringVar(&dimTo, "to", "", "end of the range (default now)")
	dimCmd.Flags().DurationVar(&dimInterval, "interval", 24*time.Hour, "sampling interval")
	dimCmd.Flags().BoolVar(&dimPlot, "plot", false, "plot the curve of an animal")
	dimCmd.MarkFlagsMutuallyExclusive("animal", "organisation")
	dimCmd.MarkFlagsOneRequired("animal", "organisation")
}

func runDIM(cmd *cobra.Command, args []string) error {
	from, to, err := parseRange(dimFrom, dimTo)
	if err != nil {
		return err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultDIMDays)
	}

	if dimOrganisation != "" {
		if dimPlot {
			return fmt.Errorf("--plot requires --animal")
		}
		return organisationDIM(cmd.Context(), client, cmd.OutOrStdout(), dimOrganisation, to)
	}
	return animalDIM(cmd.Context(), client, cmd.OutOrStdout(), dimAnimal, from, to, dimInterval, dimPlot)
}

func animalDIM(ctx context.Context, c *sxapi.Client, w io.Writer, animalID string, from, to time.Time, interval time.Duration, plot bool) error {
	samples, err := c.AnimalDIM(ctx, animalID, from, to, interval)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(w, "No samples in range.")
		return nil
	}

	if plot {
		fmt.Fprintln(w, plotSamples(animalID, samples))
		return nil
	}

	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%s\n", s.At.Format("2006-01-02 15:04"), formatDIM(s.DIM))
	}
	return nil
}

func plotSamples(animalID string, samples []dim.Sample) string {
	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = s.DIM
	}

	caption := fmt.Sprintf("DIM of %s, %s to %s", animalID,
		samples[0].At.Format(time.DateOnly), samples[len(samples)-1].At.Format(time.DateOnly))

	return asciigraph.Plot(data,
		asciigraph.Height(plotHeight),
		asciigraph.Width(min(plotWidth, len(data))),
		asciigraph.Caption(caption),
	)
}

// animalDays is the current days in milk of one animal
type animalDays struct {
	AnimalID string
	DIM      float64
	Calving  time.Time
}

// organisationDIM fetches every animal of an organisation concurrently and
// prints their days in milk at the given instant
func organisationDIM(ctx context.Context, c *sxapi.Client, w io.Writer, organisationID string, at time.Time) error {
	ids, err := c.OrganisationAnimalIDs(ctx, organisationID)
	if err != nil {
		return err
	}

	logger.Info().
		Str("organisation_id", organisationID).
		Int("animals", len(ids)).
		Msg("Computing days in milk")

	results := make([]animalDays, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(dimConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			animal, err := c.AnimalByID(ctx, id)
			if err != nil {
				return fmt.Errorf("animal %s: %w", id, err)
			}
			calvings := animal.CalvingDates()
			calving, _ := dim.LatestCalving(calvings, at)
			results[i] = animalDays{AnimalID: id, DIM: dim.At(calvings, at), Calving: calving}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Highest DIM first, animals without calving last
	slices.SortFunc(results, func(a, b animalDays) int {
		return cmp.Or(cmp.Compare(b.DIM, a.DIM), strings.Compare(a.AnimalID, b.AnimalID))
	})

	fmt.Fprintf(w, "\nDays in milk of %d animals at %s:\n", len(results), at.Format(time.DateOnly))
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, r := range results {
		calving := "-"
		if !r.Calving.IsZero() {
			calving = r.Calving.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "• %-26s %8s  calved %s\n", r.AnimalID, formatDIM(r.DIM), calving)
	}

	return nil
}

func formatDIM(v float64) string {
	if v == dim.NoCalving {
		return "none"
	}
	return fmt.Sprintf("%.0f", v)
}
