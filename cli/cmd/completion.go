package cmd

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for bundage.

To load completions:

Bash:
  $ source <(bundage completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ bundage completion bash > /etc/bash_completion.d/bundage
  # macOS:
  $ bundage completion bash > $(brew --prefix)/etc/bash_completion.d/bundage

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ bundage completion zsh > "${fpath[1]}/_bundage"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ bundage completion fish | source

  # To load completions for each session, execute once:
  $ bundage completion fish > ~/.config/fish/completions/bundage.fish

PowerShell:
  PS> bundage completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> bundage completion powershell > bundage.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	PersistentPreRunE:     func(cmd *cobra.Command, args []string) error { return nil },
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			_ = cmd.Root().GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			_ = cmd.Root().GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			_ = cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			_ = cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		}
	},
}
