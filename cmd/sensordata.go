package cmd

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/smaxtec/sxapi/sxapi"
)

var (
	dataAnimal string
	dataDevice string
	dataMetric string
	dataFrom   string
	dataTo     string
)

// sensorDataCmd represents the sensordata command
var sensorDataCmd = &cobra.Command{
	Use:   "sensordata",
	Short: "Print the readings of one metric",
	Long: `Print the sensor readings of one metric of an animal or device. Without
--from and --to the last 30 days are fetched.`,
	RunE: runSensorData,
}

func init() {
	sensorDataCmd.Flags().StringVar(&dataAnimal, "animal", "", "animal id")
	sensorDataCmd.Flags().StringVar(&dataDevice, "device", "", "device id")
	sensorDataCmd.Flags().StringVarP(&dataMetric, "metric", "m", "", "metric name, e.g. temp or act")
	sensorDataCmd.Flags().StringVar(&dataFrom, "from", "", "start of the range (YYYY-MM-DD or RFC 3339)")
	sensorDataCmd.Flags().StringVar(&dataTo, "to", "", "end of the range (YYYY-MM-DD or RFC 3339)")
	_ = sensorDataCmd.MarkFlagRequired("metric")
}

func runSensorData(cmd *cobra.Command, args []string) error {
	subject, err := subjectFromFlags(dataAnimal, dataDevice)
	if err != nil {
		return err
	}
	from, to, err := parseRange(dataFrom, dataTo)
	if err != nil {
		return err
	}

	q := sxapi.SensorDataQuery{Metric: dataMetric, From: from, To: to}
	return printSensorData(cmd.Context(), client, cmd.OutOrStdout(), subject, q)
}

func printSensorData(ctx context.Context, c *sxapi.Client, w io.Writer, subject sxapi.Subject, q sxapi.SensorDataQuery) error {
	points, err := c.SensorData(ctx, subject, q)
	if err != nil {
		return err
	}

	if len(points) == 0 {
		fmt.Fprintln(w, "No readings found.")
		return nil
	}

	for _, p := range points {
		if math.IsNaN(p.Value) {
			fmt.Fprintf(w, "%s\t-\n", p.Time().Format("2006-01-02 15:04:05"))
			continue
		}
		fmt.Fprintf(w, "%s\t%.2f\n", p.Time().Format("2006-01-02 15:04:05"), p.Value)
	}
	fmt.Fprintf(w, "\n%d readings of %s\n", len(points), q.Metric)

	return nil
}
