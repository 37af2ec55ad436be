package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/di"
	"github.com/aristath/riskcycle/internal/reliability"
)

var errBackupDisabled = errors.New("offsite backup is not configured (set the R2_* variables)")

var restoreDest string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the state database and upload it offsite",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List offsite backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [key]",
	Short: "Download and verify a backup into a directory",
	Long: `Download an archive (the newest when no key is given), verify every
checksum and extract the database files into --dest. The live data
directory is never written; move the files into place with the server
stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().StringVar(&restoreDest, "dest", "./restore", "Directory to extract into")
}

func withBackups(cmd *cobra.Command, fn func(ctx context.Context, svc *reliability.R2BackupService) error) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		if c.R2BackupService == nil {
			return errBackupDisabled
		}
		return fn(ctx, c.R2BackupService)
	})
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withBackups(cmd, func(ctx context.Context, svc *reliability.R2BackupService) error {
		key, err := svc.CreateAndUploadBackup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Uploaded %s\n", key)
		return nil
	})
}

func runBackupList(cmd *cobra.Command, args []string) error {
	return withBackups(cmd, func(ctx context.Context, svc *reliability.R2BackupService) error {
		backups, err := svc.ListBackups(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tCREATED\tSIZE\tAGE")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%d\t%dh\n",
				b.Filename, b.Timestamp.Format("2006-01-02 15:04:05"), b.SizeBytes, b.AgeHours)
		}
		return w.Flush()
	})
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	return withBackups(cmd, func(ctx context.Context, svc *reliability.R2BackupService) error {
		if err := os.MkdirAll(restoreDest, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", restoreDest, err)
		}
		meta, err := svc.RestoreBackup(ctx, key, restoreDest)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restored backup from %s into %s\n", meta.Timestamp.Format("2006-01-02 15:04:05"), restoreDest)
		for _, db := range meta.Databases {
			fmt.Fprintf(os.Stdout, "  %s (%d bytes, %s)\n", db.Filename, db.SizeBytes, db.Checksum)
		}
		return nil
	})
}
