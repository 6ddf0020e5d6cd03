package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "uploadctl",
	Short: "uploadctl is a command line tool for the uploadplane upload service",
	Long: `uploadctl is the operator interface of the uploadplane upload service.

Common workflows:

  Schedule a validator over a file:
    uploadctl validate <area-id> reads.fastq --image quay.io/org/validator:1

  Check the checksum and validation status of a file:
    uploadctl status <area-id> reads.fastq

  Summarize an upload area:
    uploadctl status <area-id>

  Deregister every batch job definition of the deployment:
    uploadctl jobdefs clear --server-config uploadplane.yaml

Configuration:
  Set the API endpoint and key via flags, environment variables or a config file:
    UPLOADPLANE_URL        API endpoint (default: http://localhost:8080)
    UPLOADPLANE_API_KEY    API key sent in the Api-Key header`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".uploadctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "UPLOADPLANE_VARNAME"
	viper.SetEnvPrefix("UPLOADPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.uploadctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "uploadplane API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("api-key", "k", "", "API key for authentication")
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
}
