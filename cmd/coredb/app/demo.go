package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/lockmanager"
	"github.com/darleet/coredb/internal/page"
)

const demoTable lockmanager.TableOID = 1

func initDemo() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "demo",
		Short: "Inserts a handful of keys and reads them back under a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEngine(rootCmd.Options.ConfigPath)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := e.close(); closeErr != nil {
					e.log.Errorw("closing engine", "error", closeErr)
				}
			}()

			t := e.txns.Begin(lockmanager.RepeatableRead)

			if ok, err := e.locks.LockTable(t, lockmanager.ModeIntentionExclusive, demoTable); err != nil || !ok {
				_ = e.txns.Abort(t)
				return fmt.Errorf("lock demo table: %w", err)
			}

			for i := int64(0); i < 10; i++ {
				rid := common.RecordID{FileID: treeFileID, PageID: common.PageID(i), SlotNum: 0}
				if ok, err := e.locks.LockRow(t, lockmanager.ModeExclusive, demoTable, uint64(i)); err != nil || !ok {
					_ = e.txns.Abort(t)
					return fmt.Errorf("lock row %d: %w", i, err)
				}

				if _, err := e.tree.Insert(page.Key(i), rid); err != nil {
					_ = e.txns.Abort(t)
					return fmt.Errorf("insert key %d: %w", i, err)
				}
			}

			for i := int64(0); i < 10; i++ {
				rid, found, err := e.tree.GetValue(page.Key(i))
				if err != nil {
					_ = e.txns.Abort(t)
					return fmt.Errorf("lookup key %d: %w", i, err)
				}
				e.log.Infow("lookup", "key", i, "found", found, "record", rid)
			}

			return e.txns.Commit(t)
		},
	})
}
