package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/elfradio/elfradio/internal/discovery"
	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List serial ports, sound cards and SDR tools on this machine",
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	d := discovery.NewDetector()
	devs := d.Scan()

	if devicesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(devs)
	}

	if err := d.AudioError(); err != nil {
		fmt.Printf("Sound cards not listed: %v\n", err)
	}
	if len(devs) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tPATH\tNAME\tUSB\tVERSION\tIN/OUT")
	for _, dev := range devs {
		channels := ""
		if dev.Kind == "audio" {
			channels = fmt.Sprintf("%d/%d", dev.Inputs, dev.Outputs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", dev.Kind, dev.Path, dev.Name, dev.USB, dev.Version, channels)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if port := d.SuggestPTTPort(); port != "" {
		fmt.Printf("\nSuggested hardware.serial_port: %s\n", port)
	}
	return nil
}
