package cmd

import (
	"fmt"
	"log"

	"github.com/danielkov/hireloop/internal/logger"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var prompt = promptui.Select{
	Label: "Run the workflow for this record?",
	Items: []string{PromptYes, PromptNo},
}

var screenCmd = &cobra.Command{
	Use:   "screen <issue-id>",
	Short: "Run the candidate workflow for a single record by hand",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("can't create a logger: %s", err)
		}

		config, err := getConfig()
		if err != nil {
			logger.Fatal("can't get the config", zap.Error(err))
		}

		issueID := args[0]

		approved, err := cmd.Flags().GetBool("yes")
		if err != nil {
			logger.Fatal("can't get the yes flag", zap.Error(err))
		}

		if !approved {
			_, selected, err := prompt.Run()
			if err != nil {
				logger.Fatal("prompt failed", zap.Error(err))
			}
			if selected != PromptYes {
				fmt.Println("Exiting. Bye!")
				return
			}
		}

		deps, err := buildComponents(cmd.Context(), logger, config)
		if err != nil {
			logger.Fatal("can't build the workflow", zap.Error(err))
		}

		if err := deps.engine.Process(cmd.Context(), issueID); err != nil {
			logger.Fatal("workflow failed", zap.String("issue", issueID), zap.Error(err))
		}

		logger.Info("workflow finished", zap.String("issue", issueID))
	},
}

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}
