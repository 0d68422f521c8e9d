package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/voxhq/vox/internal/db"
)

var (
	notesSessionArg string
	notesContentArg bool
	pruneOlderArg   time.Duration
)

func init() {
	notesListCmd.Flags().StringVar(&notesSessionArg, "session", "", "show the cached notes of this session instead of listing sessions")
	notesListCmd.Flags().BoolVar(&notesContentArg, "content", false, "print note content")
	notesPruneCmd.Flags().DurationVar(&pruneOlderArg, "older-than", 0, "drop sessions not seen for this long (default: cache.retention_days)")

	notesCmd.AddCommand(notesListCmd, notesPruneCmd)
	rootCmd.AddCommand(notesCmd)
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Inspect the local note cache",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached sessions, or the notes of one session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := db.OpenReadOnly(cfg.DBPath)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stdout, "No cached notes.")
			return nil
		}
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		if notesSessionArg == "" {
			sessions, err := store.Sessions()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "SESSION\tNOTES\tLAST SEEN")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.NoteCount, s.LastSeenAt.Local().Format(time.DateTime))
			}
			return nil
		}

		notes, err := store.CachedNotes(notesSessionArg)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			return fmt.Errorf("no cached notes for session %q", notesSessionArg)
		}
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCACHED")
		for _, n := range notes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Name, n.Status, n.CachedAt.Local().Format(time.DateTime))
		}
		if notesContentArg {
			w.Flush()
			for _, n := range notes {
				fmt.Fprintf(os.Stdout, "\n## %s\n\n%s\n", n.Name, n.Content)
			}
		}
		return nil
	},
}

var notesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cached sessions not seen recently",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		age := pruneOlderArg
		if age <= 0 {
			age = time.Duration(cfg.Cache.RetentionDays) * 24 * time.Hour
		}
		if age <= 0 {
			return errors.New("prune: no retention configured, pass --older-than")
		}

		store, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Prune(time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Pruned %d session(s) older than %s.\n", n, age)
		return nil
	},
}
