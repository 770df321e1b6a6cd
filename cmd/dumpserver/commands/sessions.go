package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions owned by a running dumpserver instance's storage",
}

var (
	sessionsUserID string
	sessionsDir    string
)

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's sessions",
	RunE:  runSessionsList,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsUserID, "user", "", "User ID to list sessions for")
	sessionsListCmd.Flags().StringVar(&sessionsDir, "directory", "", "Working directory to load project config from")
	sessionsListCmd.MarkFlagRequired("user")

	sessionsCmd.AddCommand(sessionsListCmd)
}

// runSessionsList is an operator utility: it reads the same on-disk storage
// tree a running 'dumpserver serve' instance uses, without starting the
// debugger/AI/transport machinery those instances own.
func runSessionsList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(sessionsDir)
	if err != nil {
		return err
	}

	appCfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	store := storage.New(appCfg.StorageRoot)
	mgr := session.New(store, event.NewBus(), *appCfg, logging.Logger)

	headers, err := mgr.ListPersisted(context.Background(), sessionsUserID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(headers, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
