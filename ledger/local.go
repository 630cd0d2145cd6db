package ledger

import (
	"fmt"

	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/keeper"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// Local is a ledger running in this process on its own leveldb.
type Local struct {
	*keeper.Keeper
	db *leveldb.DB
}

// OpenLocal opens (or creates) the ledger state at path. An empty path keeps
// the state in memory.
func OpenLocal(path string, h hasher.Hasher, params types.Params, opts ...keeper.Option) (*Local, error) {
	db, err := store.NewLevelDB(path, false)
	if err != nil {
		return nil, err
	}
	k, err := keeper.NewKeeper(db, h, params, opts...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fail to create keeper: %w", err)
	}
	return &Local{Keeper: k, db: db}, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}
