package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uploadplane/pkg/api"
)

var validateCmd = &cobra.Command{
	Use:   "validate [area_id] [filename...]",
	Short: "Schedule a validator over files of an upload area",
	Long: `Schedule a validation job running the validator image over one or more files.
All files are validated by the same job.

Example:
  uploadctl validate 0b8f7a3e-... reads_1.fastq reads_2.fastq --image quay.io/org/fastq-validator:2
  uploadctl validate 0b8f7a3e-... sample.bam --image validator:1 --env STRICT=true`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		image, _ := flags.GetString("image")
		envPairs, _ := flags.GetStringSlice("env")
		original, _ := flags.GetString("original-validation-id")

		url := viper.GetString("url")
		apiKey := viper.GetString("api_key")

		if apiKey == "" {
			cmd.Println("API key not found. Please set it using the --api-key flag or the UPLOADPLANE_API_KEY environment variable")
			return
		}

		if image == "" {
			cmd.Println("Error: --image is required")
			return
		}

		env := map[string]string{}
		for _, pair := range envPairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				cmd.Printf("Error: invalid --env %q, expected KEY=VALUE\n", pair)
				return
			}
			env[k] = v
		}

		client := NewUploadClient(url, apiKey)
		result, err := client.ScheduleValidation(args[0], args[1:], api.ValidateRequest{
			ValidatorImage:       image,
			Environment:          env,
			OriginalValidationID: original,
		})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Validation failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Validation failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Validation scheduled!\nValidation ID: %s\n", result.ValidationID)
	},
}

func init() {
	flags := validateCmd.Flags()
	flags.StringP("image", "i", "", "Validator docker image (required)")
	flags.StringSliceP("env", "e", []string{}, "Extra validator environment, KEY=VALUE")
	flags.String("original-validation-id", "", "Validation this run repeats")

	rootCmd.AddCommand(validateCmd)
}
