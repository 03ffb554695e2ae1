package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/lockmanager"
	"github.com/darleet/coredb/internal/page"
)

const benchTable lockmanager.TableOID = 2

func initBench() {
	var count int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Inserts N keys under one transaction and reports elapsed time",
		RunE: func(_ *cobra.Command, _ []string) error {
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
			if ok, err := e.locks.LockTable(t, lockmanager.ModeIntentionExclusive, benchTable); err != nil || !ok {
				_ = e.txns.Abort(t)
				return fmt.Errorf("lock bench table: %w", err)
			}

			start := time.Now()
			for i := 0; i < count; i++ {
				rid := common.RecordID{FileID: treeFileID, PageID: common.PageID(i), SlotNum: 0}
				if ok, err := e.locks.LockRow(t, lockmanager.ModeExclusive, benchTable, uint64(i)); err != nil || !ok {
					_ = e.txns.Abort(t)
					return fmt.Errorf("lock row %d: %w", i, err)
				}
				if _, err := e.tree.Insert(page.Key(i), rid); err != nil {
					_ = e.txns.Abort(t)
					return fmt.Errorf("insert key %d: %w", i, err)
				}
			}
			elapsed := time.Since(start)

			if err := e.txns.Commit(t); err != nil {
				return fmt.Errorf("commit: %w", err)
			}

			e.log.Infow("bench complete", "inserts", count, "elapsed", elapsed)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1000, "number of keys to insert")
	rootCmd.AddCommand(cmd)
}
