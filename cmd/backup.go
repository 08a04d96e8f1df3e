package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/backup"
	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manages backups of the admin data",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates a backup and optionally writes it to a file",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		b, err := backup.NewManager(a.store, a.logger).Create(ctx)
		if errors.Is(err, backup.ErrNothingToBackUp) {
			fmt.Println("Nothing to back up")
			return
		}
		if err != nil {
			exitf("Failed to create backup: %v", err)
		}
		if output != "" {
			if err := writeBackupFile(output, b); err != nil {
				exitf("Failed to write backup file: %v", err)
			}
		}
		fmt.Printf("Created backup %s (%d keys, %d bytes)\n", b.ID, len(b.Data), b.Size)
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the backup history, oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		history, err := backup.NewManager(a.store, a.logger).List(ctx)
		if err != nil {
			exitf("Failed to list backups: %v", err)
		}
		for _, b := range history {
			fmt.Printf("%s  %s  %d keys  %d bytes\n", b.ID, b.Timestamp.Format("2006-01-02 15:04:05"), len(b.Data), b.Size)
		}
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [id]",
	Short: "Restores a backup from the history or from a file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		file, _ := cmd.Flags().GetString("file")
		if (len(args) == 0) == (file == "") {
			exitf("Specify either a backup id or --file")
		}

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()
		m := backup.NewManager(a.store, a.logger)

		var restored domain.Backup
		if file != "" {
			restored, err = readBackupFile(file)
			if err == nil {
				err = m.Apply(ctx, restored)
			}
		} else {
			restored, err = m.Restore(ctx, args[0])
		}
		if err != nil {
			exitf("Failed to restore backup: %v", err)
		}
		fmt.Printf("Restored backup from %s\n", restored.Timestamp.Format("2006-01-02"))
	},
}

func writeBackupFile(path string, b domain.Backup) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := backup.Export(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readBackupFile(path string) (domain.Backup, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Backup{}, err
	}
	defer f.Close()
	return backup.Import(f)
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
	backupCreateCmd.Flags().StringP("output", "o", "", "Also write the backup to this file")
	backupRestoreCmd.Flags().String("file", "", "Restore from a file written by backup create --output")
}
