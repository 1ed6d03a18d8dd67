package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/picogrid/legion-missions/pkg/config"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage Legion environments",
	Long:  `Manage the Legion environments drone positions are published to`,
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured environments",
	RunE:  listEnvironments,
}

var envAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new environment",
	RunE:  addEnvironment,
}

var envRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove an environment",
	Args:  cobra.MaximumNArgs(1),
	RunE:  removeEnvironment,
}

var envSelectCmd = &cobra.Command{
	Use:   "select [name]",
	Short: "Select the default environment",
	Args:  cobra.MaximumNArgs(1),
	RunE:  selectDefaultEnvironment,
}

func init() {
	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envAddCmd)
	envCmd.AddCommand(envRemoveCmd)
	envCmd.AddCommand(envSelectCmd)
}

func listEnvironments(cmd *cobra.Command, args []string) error {
	envs, err := config.LoadEnvironments()
	if err != nil {
		return fmt.Errorf("failed to load environments: %w", err)
	}

	if len(envs.Environments) == 0 {
		fmt.Println("No environments configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\tNAME\tURL\tAPI KEY")
	_, _ = fmt.Fprintln(w, "\t----\t---\t-------")

	for _, env := range envs.Environments {
		marker := ""
		if env.Name == envs.Selected {
			marker = "*"
		}
		keyInfo := "none"
		if env.APIKey != "" {
			keyInfo = fmt.Sprintf("$%s", env.APIKey)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, env.Name, env.URL, keyInfo)
	}

	return w.Flush()
}

func addEnvironment(cmd *cobra.Command, args []string) error {
	envs, err := config.LoadEnvironments()
	if err != nil {
		return fmt.Errorf("failed to load environments: %w", err)
	}

	var env config.Environment

	namePrompt := &survey.Input{
		Message: "Environment name:",
	}
	if err := survey.AskOne(namePrompt, &env.Name, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	urlPrompt := &survey.Input{
		Message: "Legion API URL:",
		Default: "https://legion.example.com",
	}
	if err := survey.AskOne(urlPrompt, &env.URL, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	apiKeyPrompt := &survey.Input{
		Message: "API key environment variable:",
		Default: "LEGION_API_KEY",
		Help:    "Name of the environment variable that contains the API key",
	}
	if err := survey.AskOne(apiKeyPrompt, &env.APIKey); err != nil {
		return err
	}

	if err := envs.Add(env); err != nil {
		return err
	}
	if len(envs.Environments) == 1 {
		envs.Selected = env.Name
	}

	if err := config.SaveEnvironments(envs); err != nil {
		return fmt.Errorf("failed to save environments: %w", err)
	}

	fmt.Printf("Environment %s added successfully\n", env.Name)
	return nil
}

func removeEnvironment(cmd *cobra.Command, args []string) error {
	envs, err := config.LoadEnvironments()
	if err != nil {
		return fmt.Errorf("failed to load environments: %w", err)
	}

	if len(envs.Environments) == 0 {
		fmt.Println("No environments to remove")
		return nil
	}

	selected, err := pickEnvironment(envs, args, "Select environment to remove:")
	if err != nil {
		return err
	}

	var confirm bool
	confirmPrompt := &survey.Confirm{
		Message: fmt.Sprintf("Are you sure you want to remove %s?", selected),
		Default: false,
	}
	if err := survey.AskOne(confirmPrompt, &confirm); err != nil {
		return err
	}

	if !confirm {
		fmt.Println("Removal cancelled")
		return nil
	}

	if !envs.Remove(selected) {
		return fmt.Errorf("environment %s not found", selected)
	}

	if err := config.SaveEnvironments(envs); err != nil {
		return fmt.Errorf("failed to save environments: %w", err)
	}

	fmt.Printf("Environment %s removed successfully\n", selected)
	return nil
}

func selectDefaultEnvironment(cmd *cobra.Command, args []string) error {
	envs, err := config.LoadEnvironments()
	if err != nil {
		return fmt.Errorf("failed to load environments: %w", err)
	}

	if len(envs.Environments) == 0 {
		return fmt.Errorf("no environments configured, add one with 'env add'")
	}

	selected, err := pickEnvironment(envs, args, "Select default environment:")
	if err != nil {
		return err
	}

	env, ok := envs.Find(selected)
	if !ok {
		return fmt.Errorf("environment %s not found", selected)
	}
	envs.Selected = env.Name

	if err := config.SaveEnvironments(envs); err != nil {
		return fmt.Errorf("failed to save environments: %w", err)
	}

	fmt.Printf("Environment %s selected\n", env.Name)
	return nil
}

// pickEnvironment takes the name from args or asks for it
func pickEnvironment(envs *config.Environments, args []string, message string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	names := make([]string, len(envs.Environments))
	for i, env := range envs.Environments {
		names[i] = env.Name
	}

	var selected string
	prompt := &survey.Select{
		Message: message,
		Options: names,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return "", err
	}
	return selected, nil
}
