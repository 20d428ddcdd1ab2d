package cli

import (
	"context"
	"fmt"

	"github.com/songsync-app/songsync/internal/config"
	"github.com/songsync-app/songsync/internal/library"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new songsync library",
	Long: `Initialize a new songsync library in the current directory.
This creates a .songsync directory holding the local databases and
configuration.`,
	Run: runInit,
}

var (
	initRemote string
	initToken  string
	initDevice string
)

func init() {
	initCmd.Flags().StringVar(&initRemote, "remote", "", "Backend server URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "Backend access token")
	initCmd.Flags().StringVar(&initDevice, "device", "", "Device name (defaults to hostname)")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	// Check if already initialized
	if _, err := config.FindRoot(); err == nil {
		exitError("songsync library already exists")
	}

	fmt.Printf("Initializing songsync library...\n")

	// Test the backend connection before committing to the config
	if initRemote != "" {
		fmt.Printf("Remote: %s\n", initRemote)
		client := remote.NewHTTPClient(initRemote, initToken)
		if _, err := client.ListRecords(ctx, models.EntitySong); err != nil {
			exitError("failed to reach backend: %v", err)
		}
	}

	cfg, err := config.Initialize(initRemote, initToken, initDevice)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	st, err := store.New(cfg.StatePath())
	if err != nil {
		exitError("failed to create state store: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize state store: %v", err)
	}

	lib, err := library.New(cfg.LibraryPath())
	if err != nil {
		exitError("failed to create library: %v", err)
	}
	defer lib.Close()

	if err := lib.Initialize(); err != nil {
		exitError("failed to initialize library: %v", err)
	}

	fmt.Printf("\nInitialized empty songsync library in .songsync/\n")
	fmt.Printf("Device: %s\n", cfg.DeviceName)
	if initRemote != "" {
		fmt.Printf("\nRun 'songsync sync' to pull the shared library.\n")
	}
}
