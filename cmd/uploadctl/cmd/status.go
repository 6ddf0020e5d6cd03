package cmd

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uploadplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [area_id] [filename]",
	Short: "Show checksum and validation status",
	Long: `With a file name, show the newest checksum and validation of that file,
including the checksums and the validator results.
Without one, count the files of the upload area by status.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewUploadClient(viper.GetString("url"), viper.GetString("api_key"))

		if len(args) == 1 {
			checksums, err := client.ChecksumCounts(args[0])
			if err != nil {
				cmd.Printf("Failed to get checksum counts: %v\n", err)
				return
			}
			validations, err := client.ValidationCounts(args[0])
			if err != nil {
				cmd.Printf("Failed to get validation counts: %v\n", err)
				return
			}
			printCounts(cmd, args[0], checksums, validations)
			return
		}

		checksum, err := client.ChecksumStatus(args[0], args[1])
		if err != nil {
			cmd.Printf("Failed to get checksum status: %v\n", err)
			return
		}
		validation, err := client.ValidationStatus(args[0], args[1])
		if err != nil {
			cmd.Printf("Failed to get validation status: %v\n", err)
			return
		}
		printFileStatus(cmd, args[1], checksum, validation)
	},
}

func printFileStatus(cmd *cobra.Command, name string, checksum *api.ChecksumStatusResponse, validation *api.ValidationStatusResponse) {
	cmd.Printf("%s %sFile Status%s\n", statusIcon(validation.ValidationStatus), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, name)
	cmd.Printf("%sChecksum:%s    %s\n", colorDim, colorReset, colorizeStatus(checksum.ChecksumStatus))
	for _, alg := range slices.Sorted(maps.Keys(checksum.Checksums)) {
		cmd.Printf("  %s%-8s%s %s\n", colorDim, alg, colorReset, checksum.Checksums[alg])
	}

	cmd.Printf("%sValidation:%s  %s\n", colorDim, colorReset, colorizeStatus(validation.ValidationStatus))

	var results api.ValidationResults
	if len(validation.ValidationResults) == 0 || string(validation.ValidationResults) == "null" ||
		json.Unmarshal(validation.ValidationResults, &results) != nil {
		return
	}
	cmd.Printf("%sValidator:%s   %s\n", colorDim, colorReset, results.Status)
	if results.ExitCode != nil {
		color := colorGreen
		if *results.ExitCode != 0 {
			color = colorRed
		}
		cmd.Printf("%sExit Code:%s   %s%d%s\n", colorDim, colorReset, color, *results.ExitCode, colorReset)
	}
	if results.Exception != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *results.Exception, colorReset)
	}
	cmd.Printf("%sDuration:%s    %s%.1fs%s\n", colorDim, colorReset, colorCyan, results.DurationS, colorReset)
}

func printCounts(cmd *cobra.Command, areaID string, checksums, validations map[string]int) {
	cmd.Printf("%sUpload Area %s%s\n", colorBold, areaID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sFiles:%s %d\n", colorDim, colorReset, checksums["TOTAL"])
	printCountGroup(cmd, "Checksums", checksums)
	printCountGroup(cmd, "Validations", validations)
}

func printCountGroup(cmd *cobra.Command, title string, counts map[string]int) {
	cmd.Printf("%s%s:%s\n", colorDim, title, colorReset)
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		if status == "TOTAL" {
			continue
		}
		cmd.Printf("  %-26s %d\n", colorizeStatus(status), counts[status])
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch {
	case status == "CHECKSUMMED" || status == "VALIDATED":
		return colorGreen + "✓" + colorReset
	case status == "CHECKSUMMING" || status == "VALIDATING":
		return colorYellow + "⏳" + colorReset
	case status == "SCHEDULED":
		return colorCyan + "◯" + colorReset
	case strings.HasSuffix(status, "UNSCHEDULED"):
		return colorDim + "-" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch {
	case status == "CHECKSUMMED" || status == "VALIDATED":
		return icon + " " + colorGreen + status + colorReset
	case status == "CHECKSUMMING" || status == "VALIDATING":
		return icon + " " + colorYellow + status + colorReset
	case status == "SCHEDULED":
		return icon + " " + colorCyan + status + colorReset
	case strings.HasSuffix(status, "UNSCHEDULED"):
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
