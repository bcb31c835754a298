package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cloudface",
	Short: "Find faces in Google Drive photo folders",
	Long: `Cloudface turns shared Google Drive photo folders into searchable face
embeddings. Processing is incremental: rerunning a folder after new uploads
downloads and embeds only the new photos, and a selfie search ranks every
photo the query face appears in.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
