package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pubtree/dbopen"
	"github.com/hazyhaar/pubtree/snapshot"
	"github.com/hazyhaar/pubtree/store"
	"github.com/hazyhaar/pubtree/tree"
)

var (
	flagPageSize int
	flagTypes    []string
	flagKind     string
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regenerate the denormalized cache rows from canonical entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()

		var tags []string
		if len(flagTypes) > 0 {
			tags, err = st.ContentTypeDescendants(cmd.Context(), flagTypes)
			if err != nil {
				return err
			}
		}
		return st.Rebuild(cmd.Context(), flagPageSize, tags...)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check canonical entities against cache rows; exit 1 on drift",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()

		var ok bool
		if flagKind != "" {
			k, err := tree.KindFromString(flagKind)
			if err != nil {
				return err
			}
			ok, err = st.Verify(cmd.Context(), k)
			if err != nil {
				return err
			}
		} else {
			ok, err = st.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
		}
		if !ok {
			fmt.Println("drift detected")
			os.Exit(1)
		}
		fmt.Println("consistent")
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Load the tree from the store and flush it to the snapshot file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.SnapshotPath == "" {
			return fmt.Errorf("no snapshot_path configured")
		}
		st, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()

		t, err := st.LoadTree(cmd.Context())
		if err != nil {
			return err
		}
		snaps := snapshot.New(cfg.SnapshotPath)
		if err := snaps.Save(t); err != nil {
			return err
		}
		fmt.Printf("snapshot written: %s (%d nodes)\n", cfg.SnapshotPath, t.Len())
		return nil
	},
}

func init() {
	rebuildCmd.Flags().IntVar(&flagPageSize, "page-size", 500, "rebuild paging size")
	rebuildCmd.Flags().StringSliceVar(&flagTypes, "types", nil, "content-type tags to scope the rebuild (descendant types included)")
	verifyCmd.Flags().StringVar(&flagKind, "kind", "", "restrict to one entity class: content, media or member")
}

func openStore() (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, nil, err
	}
	return store.New(db, store.WithLogger(logger)), func() { db.Close() }, nil
}
