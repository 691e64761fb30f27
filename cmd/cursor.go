package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
	"github.com/tokenbridge/bridge-relayer/txrelayer"
)

// CursorCmd inspects or overrides the persisted scan cursor of a chain.
// The relayer must be stopped while a cursor is set.
func CursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or override the last scanned block of a chain",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <chain>",
		Short: "Print the last scanned block of a chain",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			cfg, _ := loadConfig(c)
			withCursorStore(cfg, args[0], false, func(store txrelayer.CursorStore) error {
				height, found, err := store.GetCursor(args[0])
				if err != nil {
					return err
				}
				if !found {
					fmt.Printf("%s: no cursor stored\n", args[0])
					return nil
				}
				fmt.Printf("%s: %d\n", args[0], height)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <chain> <height>",
		Short: "Override the last scanned block of a chain, scanning resumes at height+1",
		Args:  cobra.ExactArgs(2),
		Run: func(c *cobra.Command, args []string) {
			cfg, parentLogger := loadConfig(c)
			height, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				fatalf("invalid height %q: %v", args[1], err)
			}
			withCursorStore(cfg, args[0], true, func(store txrelayer.CursorStore) error {
				if err := store.SetCursor(args[0], height); err != nil {
					return err
				}
				parentLogger.Sugar().Infof("%s cursor set to %d", args[0], height)
				return nil
			})
		},
	})

	return cmd
}

// withCursorStore runs fn on the cursor backend of cfg and exits on any failure.
func withCursorStore(cfg config.Config, chainName string, migrate bool, fn func(store txrelayer.CursorStore) error) {
	if chainName != cfg.ChainA.Name && chainName != cfg.ChainB.Name {
		fatalf("unknown chain %q, expected %s or %s", chainName, cfg.ChainA.Name, cfg.ChainB.Name)
	}

	store, closeFn, err := openCursorStore(cfg, migrate)
	if err != nil {
		fatalf("%v", err)
	}
	err = fn(store)
	_ = closeFn()
	if err != nil {
		fatalf("%v", err)
	}
}

// openCursorStore opens the configured cursor backend. Tables are only created when migrate
// is set, so read-only use never changes the schema.
func openCursorStore(cfg config.Config, migrate bool) (txrelayer.CursorStore, func() error, error) {
	if cfg.Relayer.CursorBackend == config.CursorBackendLevelDB {
		levelDB, err := db.NewLevelDB(cfg.Relayer.LevelDBDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open leveldb")
		}
		return db.NewLevelDBCursorStore(levelDB), levelDB.Close, nil
	}

	gormDB, err := db.Init(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := db.Migrate(gormDB); err != nil {
			_ = db.Close(gormDB)
			return nil, nil, errors.Wrap(err, "migration failed")
		}
	}

	return db.NewConfigCursorStore(gormDB), func() error { return db.Close(gormDB) }, nil
}
