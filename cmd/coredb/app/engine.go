package app

import (
	"fmt"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/darleet/coredb/cfg"
	"github.com/darleet/coredb/internal/bptree"
	"github.com/darleet/coredb/internal/bufferpool"
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/diskio"
	"github.com/darleet/coredb/internal/lockmanager"
	"github.com/darleet/coredb/internal/txn"
)

// engine bundles the pieces a subcommand needs, assembled the way
// darleet-GraphDB's app.APIEntrypoint.Init wires its own server: load
// config, build a logger off Environment, then construct the engine's
// layers bottom-up (disk, buffer pool, index, lock manager, transaction
// manager).
type engine struct {
	cfg   cfg.EngineConfig
	log   common.Logger
	disk  *diskio.Manager
	bpm   *bufferpool.Manager
	tree  *bptree.Tree
	locks *lockmanager.Manager
	txns  *txn.Manager
}

const treeFileID common.FileID = 0

func newEngine(configPath string) (*engine, error) {
	c, err := cfg.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var zl *zap.Logger
	if c.Environment == cfg.EnvDev {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log := zl.Sugar()

	fs := afero.NewBasePathFs(afero.NewOsFs(), c.DataDir)
	disk := diskio.New(fs)
	if err := disk.Register(treeFileID, "index.db"); err != nil {
		return nil, fmt.Errorf("register index file: %w", err)
	}

	metrics, err := bufferpool.NewMetrics(otel.Meter("coredb"))
	if err != nil {
		return nil, fmt.Errorf("build buffer pool metrics: %w", err)
	}

	bpm, err := bufferpool.New(c.PoolSize, c.K, disk, metrics)
	if err != nil {
		return nil, fmt.Errorf("build buffer pool: %w", err)
	}

	tree, err := bptree.NewTree(bpm, treeFileID, c.LeafMax, c.InternalMax)
	if err != nil {
		return nil, fmt.Errorf("build b+ tree: %w", err)
	}

	locks := lockmanager.NewManager()
	locks.StartDeadlockDetection(c.DeadlockDetectionIntervalMS)

	return &engine{
		cfg:   c,
		log:   log,
		disk:  disk,
		bpm:   bpm,
		tree:  tree,
		locks: locks,
		txns:  txn.NewManager(locks),
	}, nil
}

func (e *engine) close() error {
	e.locks.StopDeadlockDetection()
	if err := e.bpm.FlushAllPages(); err != nil {
		return fmt.Errorf("flush buffer pool: %w", err)
	}
	e.disk.Shutdown()
	return e.log.Sync()
}
