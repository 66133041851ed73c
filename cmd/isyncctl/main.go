package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Global flags
	cfgFile    string
	baseURL    string
	operator   string
	outputJSON bool
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "isyncctl",
	Short: "Dell infra sync command-line interface",
	Long: `isyncctl drives the isync daemon from the terminal: fleet inventory,
firmware and update jobs, cluster safety checks, PDU outlet control and
recurring schedules.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/isync/cli.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "isyncd API URL")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", "", "operator identity for audited actions (default $USER)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("operator", rootCmd.PersistentFlags().Lookup("operator"))

	rootCmd.AddCommand(
		newStatusCmd(),
		newSystemCmd(),
		newJobsCmd(),
		newSafetyCmd(),
		newInventoryCmd(),
		newOutletsCmd(),
		newSchedulesCmd(),
		newVersionCmd(),
		newCompletionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cli")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/isync")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("ISYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}

	if baseURL == "" {
		baseURL = viper.GetString("url")
		if baseURL == "" {
			baseURL = "http://127.0.0.1:9090"
		}
	}
	if operator == "" {
		operator = viper.GetString("operator")
		if operator == "" {
			operator = os.Getenv("USER")
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
