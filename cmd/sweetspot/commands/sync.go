package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/worker"
)

var (
	authAppKey    string
	authAppSecret string
	authCode      string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the products table with Dropbox",
}

var syncUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload the local store, replacing the Dropbox copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runSyncJob(core.StartUpload(cmd.Context()), "Uploading database to Dropbox..."); err != nil {
			return err
		}
		ui.Success("Database uploaded to %s", cfg.Remote.RemotePath)
		ui.Warning("An upload cannot be undone.")
		return nil
	},
}

var syncDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Replace the local store with the Dropbox copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ok, err := confirm("Replace the local table with the Dropbox copy?"); err != nil || !ok {
			return err
		}
		if err := runSyncJob(core.StartDownload(cmd.Context()), "Downloading database from Dropbox..."); err != nil {
			return err
		}
		n, err := core.Store().Count(cmd.Context())
		if err != nil {
			return err
		}
		ui.Success("Database downloaded, %d rows (run 'sweetspot undo' to restore the previous table)", n)
		return nil
	},
}

var syncAuthorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Connect sweetspot to a Dropbox account",
	Long: `Connect sweetspot to a Dropbox account. Opens an authorization URL,
then exchanges the code Dropbox shows for a refresh token. The app key,
secret and token are stored encrypted in the data directory.`,
	RunE: runAuthorize,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether Dropbox is connected",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := core.RemoteStatus(cmd.Context())
		if err != nil {
			return err
		}
		ui.KeyValue("Remote path", st.RemotePath)
		if !st.Authorized {
			ui.Warning("Not connected, run 'sweetspot sync authorize'")
			return nil
		}
		ui.KeyValue("Account", st.Account)
		ui.Success("Connected")
		return nil
	},
}

func init() {
	syncAuthorizeCmd.Flags().StringVar(&authAppKey, "app-key", "", "Dropbox app key")
	syncAuthorizeCmd.Flags().StringVar(&authAppSecret, "app-secret", "", "Dropbox app secret")
	syncAuthorizeCmd.Flags().StringVar(&authCode, "code", "", "authorization code (prompted for when omitted)")
	syncDownloadCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	syncCmd.AddCommand(syncUploadCmd, syncDownloadCmd, syncAuthorizeCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	if authAppKey != "" || authAppSecret != "" {
		if err := core.SaveRemoteApp(authAppKey, authAppSecret); err != nil {
			return err
		}
	}

	url, err := core.AuthorizeURL()
	if err != nil {
		return err
	}

	ui.Section("Dropbox authorization")
	ui.Message("1. Open this URL and allow access:")
	ui.Message("   %s", url)
	ui.Message("2. Copy the authorization code Dropbox shows.")
	ui.Newline()

	code := authCode
	if code == "" {
		if code, err = ui.PromptRequired("Authorization code"); err != nil {
			return err
		}
	}

	if err := core.CompleteAuthorization(cmd.Context(), code); err != nil {
		return err
	}
	ui.Success("Dropbox connected, credentials saved to %s", cfg.CredentialsPath())
	return nil
}

// runSyncJob shows a spinner while a sync job runs.
func runSyncJob(job *worker.Job, message string) error {
	s := ui.NewSpinner(message)
	s.Start()
	err := job.Drain(func(e domain.StreamEvent) {
		if e.Type == domain.EventStatus {
			s.UpdateMessage(fmt.Sprint(e.Payload) + "...")
		}
	})
	s.Stop()
	return err
}
